package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/uma-arai/sbcntr-booking/internal/model"
)

// Mailer はメールを送信します
type Mailer interface {
	Send(ctx context.Context, email model.Email) error
}

// AMQPMailer はメールをRabbitMQのキューへ積みます
// 実際の送信はキューを購読するメール配信ワーカーが行います
type AMQPMailer struct {
	url   string
	queue string
}

func NewAMQPMailer(url, queue string) *AMQPMailer {
	return &AMQPMailer{url: url, queue: queue}
}

func (m *AMQPMailer) Send(ctx context.Context, email model.Email) error {
	conn, err := amqp.Dial(m.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// ブローカーの再起動でメッセージが失われないようにdurableで宣言する
	if _, err := ch.QueueDeclare(m.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: queue declare failed: %w", err)
	}

	body, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	if err := ch.PublishWithContext(ctx, "", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}); err != nil {
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}
	return nil
}

// LogMailer はメールを送信せずログに出力します
// RABBITMQ_URLが設定されていないローカル環境で使います
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, email model.Email) error {
	log.Printf("mail: to=%s subject=%q booking=%s", email.To, email.Subject, email.BookingID)
	return nil
}
