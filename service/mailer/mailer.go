package mailer

import (
	"bytes"
	"context"
	"io"
	"net"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"GotMail/logger"
	"GotMail/tools"
	"GotMail/tools/errs"
)

// Sender 系统信发送口。验证码/重置链接这类系统邮件走这里,
// 用户互发邮件不经过 SMTP, 走站内投递管线。
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Conf struct {
	Addr     string // host:port, 空则降级为日志输出
	From     string
	Username string
	Password string
	Helo     string
	Timeout  time.Duration
}

func (c *Conf) norm() {
	if c.Helo == "" {
		c.Helo = "gotmail"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// NewFromEnv SMTP_ADDR 未配置时返回日志降级实现, 开发环境可用
func NewFromEnv() Sender {
	conf := Conf{
		Addr:     tools.GetEnv("SMTP_ADDR", ""),
		From:     tools.GetEnv("SMTP_FROM", "no-reply@gotmail.com"),
		Username: tools.GetEnv("SMTP_USER", ""),
		Password: tools.GetEnv("SMTP_PASSWORD", ""),
	}
	if conf.Addr == "" {
		logger.Infof("[Mailer] SMTP_ADDR not set, system mail falls back to log output")
		return &logSender{}
	}
	return NewSMTP(conf)
}

func NewSMTP(conf Conf) Sender {
	conf.norm()
	return &smtpSender{conf: conf}
}

type smtpSender struct {
	conf Conf
}

func (s *smtpSender) Send(ctx context.Context, to, subject, body string) error {
	msg, err := compose(s.conf.From, to, subject, body)
	if err != nil {
		return errs.WrapMsg(err, "compose mail", "to", to)
	}

	d := net.Dialer{Timeout: s.conf.Timeout}
	conn, err := d.DialContext(ctx, "tcp", s.conf.Addr)
	if err != nil {
		return errs.WrapMsg(err, "dial smtp", "addr", s.conf.Addr)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.conf.Timeout))
	}

	host, _, _ := net.SplitHostPort(s.conf.Addr)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return errs.WrapMsg(err, "smtp client", "addr", s.conf.Addr)
	}
	defer client.Close()

	if err := client.Hello(s.conf.Helo); err != nil {
		return errs.WrapMsg(err, "smtp hello")
	}
	if s.conf.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", s.conf.Username, s.conf.Password)); err != nil {
			return errs.WrapMsg(err, "smtp auth", "user", s.conf.Username)
		}
	}
	if err := client.Mail(s.conf.From, nil); err != nil {
		return errs.WrapMsg(err, "smtp mail from", "from", s.conf.From)
	}
	if err := client.Rcpt(to); err != nil {
		return errs.WrapMsg(err, "smtp rcpt", "to", to)
	}
	w, err := client.Data()
	if err != nil {
		return errs.WrapMsg(err, "smtp data")
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return errs.WrapMsg(err, "smtp write body")
	}
	if err := w.Close(); err != nil {
		return errs.WrapMsg(err, "smtp close body")
	}
	logger.Infof("[Mailer] sent to=%s subject=%q", to, subject)
	return client.Quit()
}

// compose 生成 RFC 5322 文本
func compose(from, to, subject, body string) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)

	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// logSender 开发降级: 不投真信, 只打日志
type logSender struct{}

func (l *logSender) Send(_ context.Context, to, subject, body string) error {
	logger.Infof("[Mailer] (dev) to=%s subject=%q body=%q", to, subject, body)
	return nil
}
