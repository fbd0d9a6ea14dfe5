package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/studysync/studysync-go/internal/model"
)

var otpHTML = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="margin:0;padding:0;font-family:'Segoe UI',Tahoma,sans-serif;background:#FFF9F5;">
  <div style="max-width:600px;margin:0 auto;padding:40px 20px;">
    <div style="text-align:center;margin-bottom:32px;">
      <span style="display:inline-block;background:#F97316;color:#fff;padding:14px 22px;border-radius:14px;font-size:22px;font-weight:bold;">StudySync AI</span>
    </div>
    <div style="background:#fff;border-radius:20px;padding:36px;border:1px solid #FFEDD5;">
      <h1 style="color:#1F2937;font-size:26px;margin:0 0 16px;text-align:center;">{{.Heading}}</h1>
      <p style="color:#6B7280;font-size:16px;line-height:1.6;text-align:center;margin:0 0 28px;">{{.Intro}}</p>
      <div style="background:#FFF4ED;border:2px solid #F97316;border-radius:16px;padding:22px;text-align:center;margin:0 0 28px;">
        <p style="color:#6B7280;font-size:13px;margin:0 0 8px;text-transform:uppercase;letter-spacing:1px;">Your code</p>
        <div style="font-size:38px;font-weight:bold;color:#F97316;letter-spacing:8px;font-family:monospace;">{{.Code}}</div>
      </div>
      <p style="color:#9CA3AF;font-size:14px;text-align:center;margin:0;">The code expires in <strong style="color:#F97316;">{{.Expiry}}</strong>.</p>
    </div>
    <p style="color:#9CA3AF;font-size:13px;text-align:center;margin-top:28px;">If you did not request this code you can ignore this email.<br>&copy; {{.Year}} StudySync AI</p>
  </div>
</body>
</html>
`))

type otpView struct {
	Heading string
	Intro   string
	Code    string
	Expiry  string
	Year    int
}

// RenderOTP builds the email carrying code for the given purpose.
func RenderOTP(to, code string, purpose model.Purpose, ttl time.Duration) (Message, error) {
	v := otpView{
		Code:   code,
		Expiry: humanizeTTL(ttl),
		Year:   time.Now().Year(),
	}
	var subject string
	if purpose == model.PurposeLogin {
		subject = "Login OTP - StudySync AI"
		v.Heading = "Login Verification"
		v.Intro = "Use this code to finish signing in to StudySync AI."
	} else {
		subject = "Verify Your Email - StudySync AI"
		v.Heading = "Verify Your Email"
		v.Intro = "Thanks for signing up. Enter this code to confirm your email address."
	}

	var buf bytes.Buffer
	if err := otpHTML.Execute(&buf, v); err != nil {
		return Message{}, fmt.Errorf("rendering otp email: %w", err)
	}
	text := fmt.Sprintf("%s\n\n%s\n\nYour code: %s\n\nThe code expires in %s. If you did not request it you can ignore this email.\n",
		v.Heading, v.Intro, code, v.Expiry)

	return Message{To: to, Subject: subject, HTML: buf.String(), Text: text}, nil
}

func humanizeTTL(ttl time.Duration) string {
	if ttl >= time.Minute && ttl%time.Minute == 0 {
		m := int(ttl / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return ttl.String()
}
