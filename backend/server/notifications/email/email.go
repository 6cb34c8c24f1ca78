package email

import (
	"fmt"
	"net/smtp"

	"github.com/jghoshh/ritmo/backend/models"
)

// Service sends habit notification emails through an SMTP server. It holds
// the server address and the authenticated sender identity used as the
// "From" address on every message.
type Service struct {
	smtpServer string
	auth       smtp.Auth
	fromEmail  string
}

// InitEmailService initializes the email service by establishing an SMTP connection
// to a specified email server.
// It accepts two arguments:
// - sender: A string containing the email address of the sender. This is used as the "From" address in the emails that are sent.
// - password: A string containing the password of the sender's email account.
//
// It sets the SMTP server address and the sender's email address,
// and establishes an SMTP connection using the smtp.PlainAuth function with the sender's email and password.
// It then tries to dial to the SMTP server to check if the connection is successful.
//
// If successful in establishing a connection, the function returns the ready
// service. If an error occurs during any step of the process, it returns the error.
func InitEmailService(sender, password string) (*Service, error) {
	s := &Service{
		smtpServer: "smtp.gmail.com:587",
		fromEmail:  sender,
		auth: smtp.PlainAuth(
			"",
			sender,
			password,
			"smtp.gmail.com",
		),
	}

	c, err := smtp.Dial(s.smtpServer)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to the SMTP server: %v", err)
	}

	err = c.Close()
	if err != nil {
		return nil, fmt.Errorf("cannot close the SMTP connection: %v", err)
	}

	return s, nil
}

// SendReminder sends the initial reminder email for a habit. If the rule
// carries a custom message it replaces the stock prompt line.
func (s *Service) SendReminder(to, username, habitName, customMessage string) error {
	prompt := fmt.Sprintf("It's time for <strong>%s</strong>. A few minutes now keeps the streak alive.", habitName)
	if customMessage != "" {
		prompt = customMessage
	}

	body := `
	<html>
		<head>
			<style>
				@import url('https://fonts.googleapis.com/css2?family=Lato:wght@400;700&display=swap');
				body {
					font-family: 'Lato', sans-serif;
					margin: 0;
					padding: 0;
				}
				.container {
					max-width: 600px;
					margin: 0 auto;
					padding: 10px;
					border-radius: 4px;
				}
				p {
					line-height: 1.6;
				}
			</style>
		</head>
		<body>
			<div class="container">
				<h1>Hello, ` + username + `</h1>
				<p>` + prompt + `</p>
				<p>Mark it done in the app once you've finished.</p>
			</div>
		</body>
	</html>
	`

	return s.send(to, "Reminder: "+habitName, body)
}

// SendFollowup sends the nudge email for a habit that is still not done a
// while after its reminder. When the habit has a goal attached, the email
// includes it so the nudge lands with the reason the user set the habit up.
func (s *Service) SendFollowup(to, username, habitName, customMessage string, goal *models.Goal) error {
	prompt := fmt.Sprintf("Looks like <strong>%s</strong> is still waiting on you today.", habitName)
	if customMessage != "" {
		prompt = customMessage
	}

	goalLine := ""
	if goal != nil && goal.Description != "" {
		goalLine = `<p>Remember what you're working toward: <em>` + goal.Description + `</em></p>`
	}

	body := `
	<html>
		<head>
			<style>
				@import url('https://fonts.googleapis.com/css2?family=Lato:wght@400;700&display=swap');
				body {
					font-family: 'Lato', sans-serif;
					margin: 0;
					padding: 0;
				}
				.container {
					max-width: 600px;
					margin: 0 auto;
					padding: 10px;
					border-radius: 4px;
				}
				p {
					line-height: 1.6;
				}
			</style>
		</head>
		<body>
			<div class="container">
				<h1>Still there, ` + username + `?</h1>
				<p>` + prompt + `</p>
				` + goalLine + `
				<p>There's still time to keep today on track.</p>
			</div>
		</body>
	</html>
	`

	return s.send(to, "Don't lose today: "+habitName, body)
}

func (s *Service) send(to, subject, body string) error {
	headers := make(map[string]string)
	headers["From"] = s.fromEmail
	headers["To"] = to
	headers["Subject"] = subject
	headers["MIME-version"] = "1.0"
	headers["Content-Type"] = "text/html; charset=\"UTF-8\""

	message := ""
	for k, v := range headers {
		message += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	message += "\r\n" + body

	err := smtp.SendMail(
		s.smtpServer,
		s.auth,
		s.fromEmail,
		[]string{to},
		[]byte(message),
	)

	if err != nil {
		return fmt.Errorf("failed to send email: %v", err)
	}

	return nil
}
