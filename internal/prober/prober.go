// Package prober 以有限時間的 TCP 連線判斷 FBS 端點是否可達
package prober

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// DefaultTimeout 預設探測逾時
const DefaultTimeout = time.Second

// ErrInvalidURL 端點網址無法解析出主機
var ErrInvalidURL = errors.New("prober: invalid endpoint url")

// ConnectError 端點無法在逾時內建立 TCP 連線（逾時、DNS 失敗、拒絕連線）
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("prober: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Address 由網址推導出 host:port；https 預設 443，其他預設 80
func Address(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidURL, rawURL)
	}

	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(host, port), nil
}

// IsOnline 嘗試建立一次 TCP 連線，成功即關閉；不重試
//
// timeout <= 0 時使用 DefaultTimeout。回傳 nil 代表在線，
// 任何失敗都包成 *ConnectError（網址錯誤同樣視為離線）
func IsOnline(ctx context.Context, rawURL string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	addr, err := Address(rawURL)
	if err != nil {
		return &ConnectError{Addr: rawURL, Err: err}
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &ConnectError{Addr: addr, Err: err}
	}
	conn.Close()
	return nil
}
