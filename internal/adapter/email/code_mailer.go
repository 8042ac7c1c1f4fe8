package email

import (
	"context"
	"fmt"
	"time"
)

// CodeMailer renders one-time code mails and hands them to a Sender.
type CodeMailer struct {
	sender   Sender
	siteName string
	codeTTL  time.Duration
}

func NewCodeMailer(sender Sender, siteName string, codeTTL time.Duration) *CodeMailer {
	return &CodeMailer{sender: sender, siteName: siteName, codeTTL: codeTTL}
}

func (m *CodeMailer) SendVerificationCode(ctx context.Context, to, code string) error {
	subject := fmt.Sprintf("%s - Email verification code", m.siteName)
	return m.send(ctx, to, subject, "Your registration verification code is", code)
}

func (m *CodeMailer) SendPasswordResetCode(ctx context.Context, to, code string) error {
	subject := fmt.Sprintf("%s - Password reset code", m.siteName)
	return m.send(ctx, to, subject, "Your password reset code is", code)
}

func (m *CodeMailer) send(ctx context.Context, to, subject, lead, code string) error {
	minutes := int(m.codeTTL.Minutes())
	text := fmt.Sprintf("%s: %s\n\nThe code expires in %d minutes. If you did not request it, ignore this email.\n", lead, code, minutes)
	html := fmt.Sprintf(`<div style="font-family:sans-serif">
<h2>%s</h2>
<p>%s:</p>
<p style="font-size:28px;font-weight:bold;letter-spacing:6px">%s</p>
<p>The code expires in %d minutes. If you did not request it, ignore this email.</p>
</div>`, m.siteName, lead, code, minutes)

	return m.sender.Send(ctx, []string{to}, subject, html, text)
}
