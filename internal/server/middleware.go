package server

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
)

func registerMiddlewares(e *echo.Echo, deps Dependencies) {
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	if deps.EnableTracing {
		name := deps.TracingName
		if name == "" {
			name = "sbcntr-booking"
		}
		e.Use(echo.WrapMiddleware(func(next http.Handler) http.Handler {
			return xray.Handler(xray.NewFixedSegmentNamer(name), next)
		}))
	}
	e.Use(RequestLogger())
}

// RequestLogger はリクエストごとにアクセスログを出力します
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.Printf("http method=%s path=%s status=%d latency=%v req_id=%s ip=%s",
				c.Request().Method,
				c.Path(),
				c.Response().Status,
				time.Since(start),
				c.Response().Header().Get(echo.HeaderXRequestID),
				c.RealIP(),
			)
			return nil
		}
	}
}

// CronAuth は定期実行のトリガーをBearerトークンで認可します
// シークレットが設定されていない場合はすべてのリクエストを拒否します
func CronAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return apperror.New(apperror.KindMisconfigured, "cron secret is not configured")
			}
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				log.Printf("Rejected cron trigger from %s", c.RealIP())
				return apperror.Unauthorized("unauthorized")
			}
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
