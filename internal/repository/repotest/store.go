// Package repotest はリポジトリのインターフェースをメモリ上で実装します
// サービス層やHTTP層のテストでPostgreSQLの代わりに使います
package repotest

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
	"github.com/uma-arai/sbcntr-booking/internal/model"
	"github.com/uma-arai/sbcntr-booking/internal/repository"
)

// Store はメモリ上のデータストアです
type Store struct {
	mu            sync.Mutex
	bookings      map[string]model.Booking
	items         map[string]model.Item
	users         map[string]model.User
	audits        []model.AuditEntry
	notifications []model.NotificationRecord

	// AuditErr が設定されている場合、監査ログの記録は失敗します
	AuditErr error
	// NotificationErr はユーザーIDごとに通知作成を失敗させます
	NotificationErr map[string]error
	// ScanErr が設定されている場合、予約のスキャン系クエリは失敗します
	ScanErr error
}

func NewStore() *Store {
	return &Store{
		bookings:        make(map[string]model.Booking),
		items:           make(map[string]model.Item),
		users:           make(map[string]model.User),
		NotificationErr: make(map[string]error),
	}
}

var (
	_ repository.Transactor             = (*Store)(nil)
	_ repository.BookingRepository      = (*BookingRepo)(nil)
	_ repository.ItemRepository         = (*ItemRepo)(nil)
	_ repository.UserRepository         = (*UserRepo)(nil)
	_ repository.AuditRepository        = (*AuditRepo)(nil)
	_ repository.NotificationRepository = (*NotificationRepo)(nil)
)

// InTx はfnを実行し、エラーの場合はfn実行前の状態に戻します
func (s *Store) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.mu.Lock()
	bookings := maps.Clone(s.bookings)
	users := maps.Clone(s.users)
	audits := slices.Clone(s.audits)
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.bookings = bookings
		s.users = users
		s.audits = audits
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) AddItem(item model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

func (s *Store) AddUser(user model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *Store) AddBooking(b model.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

// Booking は保存されている予約を返します
func (s *Store) Booking(id string) (model.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if ok {
		b.ItemTitle = s.items[b.ItemID].Title
	}
	return b, ok
}

// HasUser はユーザーが存在するかを返します
func (s *Store) HasUser(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[id]
	return ok
}

// AuditEntries は記録された監査ログを返します
func (s *Store) AuditEntries() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audits)
}

// Notifications は作成された通知を返します
func (s *Store) Notifications() []model.NotificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notifications)
}

func (s *Store) Bookings() *BookingRepo { return &BookingRepo{s: s} }
func (s *Store) Items() *ItemRepo { return &ItemRepo{s: s} }
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }
func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }
func (s *Store) NotificationsRepo() *NotificationRepo { return &NotificationRepo{s: s} }

// BookingRepo はrepository.BookingRepositoryのメモリ実装です
type BookingRepo struct{ s *Store }

func (r *BookingRepo) withTitle(b model.Booking) model.Booking {
	b.ItemTitle = r.s.items[b.ItemID].Title
	return b
}

func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, apperror.NotFound("booking %s not found", id)
	}
	b = r.withTitle(b)
	return &b, nil
}

func (r *BookingRepo) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Booking, error) {
	return r.GetByID(ctx, id)
}

func (r *BookingRepo) Create(ctx context.Context, tx *sqlx.Tx, booking *model.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.bookings[booking.ID]; ok {
		return errors.New("duplicate booking id")
	}
	b := *booking
	b.ItemTitle = ""
	r.s.bookings[b.ID] = b
	return nil
}

func (r *BookingRepo) UpdateSchedule(ctx context.Context, tx *sqlx.Tx, id string, interval model.Interval, quantity int, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return apperror.NotFound("booking %s not found", id)
	}
	b.StartDate, b.EndDate, b.Quantity, b.UpdatedAt = interval.Start, interval.End, quantity, at
	r.s.bookings[id] = b
	return nil
}

func (r *BookingRepo) FindOverlapping(ctx context.Context, tx *sqlx.Tx, itemID string, interval model.Interval, statuses []model.BookingStatus, excludeID string) ([]model.Booking, error) {
	return r.scan(func(b model.Booking) bool {
		return b.ItemID == itemID &&
			b.Interval().Overlaps(interval) &&
			slices.Contains(statuses, b.Status) &&
			(excludeID == "" || b.ID != excludeID)
	})
}

func (r *BookingRepo) ListInRange(ctx context.Context, itemID string, interval model.Interval) ([]model.Booking, error) {
	return r.FindOverlapping(ctx, nil, itemID, interval, []model.BookingStatus{
		model.BookingStatusRequested,
		model.BookingStatusAccepted,
		model.BookingStatusBorrowed,
	}, "")
}

func (r *BookingRepo) ListByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	bookings, err := r.scan(func(b model.Booking) bool {
		return b.UserID == userID && !b.IsCapacityBlock()
	})
	slices.Reverse(bookings)
	return bookings, err
}

func (r *BookingRepo) FindAcceptedStartingBy(ctx context.Context, t time.Time) ([]model.Booking, error) {
	return r.scan(func(b model.Booking) bool {
		return b.Status == model.BookingStatusAccepted && !b.StartDate.After(t)
	})
}

func (r *BookingRepo) FindOpenEndedBefore(ctx context.Context, t time.Time) ([]model.Booking, error) {
	return r.scan(func(b model.Booking) bool {
		return (b.Status == model.BookingStatusRequested || b.Status == model.BookingStatusAccepted) &&
			b.EndDate.Before(t)
	})
}

func (r *BookingRepo) FindBorrowedUpdatedBy(ctx context.Context, t time.Time) ([]model.Booking, error) {
	return r.scan(func(b model.Booking) bool {
		return b.Status == model.BookingStatusBorrowed && !b.UpdatedAt.After(t)
	})
}

func (r *BookingRepo) FindEndedBefore(ctx context.Context, t time.Time) ([]string, error) {
	bookings, err := r.scan(func(b model.Booking) bool { return b.EndDate.Before(t) })
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	return ids, nil
}

// scan は条件に一致する予約を開始日時順に返します
func (r *BookingRepo) scan(match func(model.Booking) bool) ([]model.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.ScanErr != nil {
		return nil, r.s.ScanErr
	}
	var out []model.Booking
	for _, b := range r.s.bookings {
		if match(b) {
			out = append(out, r.withTitle(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

func (r *BookingRepo) TransitionStatus(ctx context.Context, tx *sqlx.Tx, ids []string, from []model.BookingStatus, to model.BookingStatus, at time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var updated []string
	for _, id := range ids {
		b, ok := r.s.bookings[id]
		if !ok || !slices.Contains(from, b.Status) {
			continue
		}
		b.Status = to
		b.UpdatedAt = at
		r.s.bookings[id] = b
		updated = append(updated, id)
	}
	return updated, nil
}

func (r *BookingRepo) DeleteByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.s.bookings[id]; ok {
			delete(r.s.bookings, id)
			n++
		}
	}
	return n, nil
}

func (r *BookingRepo) DeleteByUserIDs(ctx context.Context, tx *sqlx.Tx, userIDs []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, b := range r.s.bookings {
		if slices.Contains(userIDs, b.UserID) {
			delete(r.s.bookings, id)
			n++
		}
	}
	return n, nil
}

// ItemRepo はrepository.ItemRepositoryのメモリ実装です
type ItemRepo struct{ s *Store }

func (r *ItemRepo) GetByID(ctx context.Context, id string) (*model.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.items[id]
	if !ok {
		return nil, apperror.NotFound("item %s not found", id)
	}
	return &item, nil
}

func (r *ItemRepo) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Item, error) {
	return r.GetByID(ctx, id)
}

// UserRepo はrepository.UserRepositoryのメモリ実装です
type UserRepo struct{ s *Store }

func (r *UserRepo) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var users []model.User
	for _, id := range ids {
		if u, ok := r.s.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (r *UserRepo) FindInactiveSince(ctx context.Context, t time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, u := range r.s.users {
		if u.LastLoginAt != nil && u.LastLoginAt.Before(t) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *UserRepo) DeleteByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.s.users[id]; ok {
			delete(r.s.users, id)
			n++
		}
	}
	return n, nil
}

// AuditRepo はrepository.AuditRepositoryのメモリ実装です
type AuditRepo struct{ s *Store }

func (r *AuditRepo) Record(ctx context.Context, tx *sqlx.Tx, entries []model.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.AuditErr != nil {
		return r.s.AuditErr
	}
	r.s.audits = append(r.s.audits, entries...)
	return nil
}

// NotificationRepo はrepository.NotificationRepositoryのメモリ実装です
type NotificationRepo struct{ s *Store }

func (r *NotificationRepo) Create(ctx context.Context, record *model.NotificationRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.NotificationErr[record.UserID]; err != nil {
		return err
	}
	r.s.notifications = append(r.s.notifications, *record)
	return nil
}

func (r *NotificationRepo) GetByUserID(ctx context.Context, userID string) ([]model.NotificationRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.NotificationRecord
	for i := len(r.s.notifications) - 1; i >= 0; i-- {
		if r.s.notifications[i].UserID == userID {
			out = append(out, r.s.notifications[i])
		}
	}
	return out, nil
}

func (r *NotificationRepo) MarkRead(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.notifications {
		if r.s.notifications[i].ID == id {
			r.s.notifications[i].IsRead = true
			return nil
		}
	}
	return apperror.NotFound("notification %s not found", id)
}
