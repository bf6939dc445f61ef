package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"agentlease-backend/internal/domain"
)

// EmailNotifier sends alerts to the operations mailbox via SendGrid.
type EmailNotifier struct {
	client   *sendgrid.Client
	from     *mail.Email
	opsEmail string
	opsName  string
}

func NewEmailNotifier(apiKey, fromAddr, opsAddr string) *EmailNotifier {
	return &EmailNotifier{
		client:   sendgrid.NewSendClient(apiKey),
		from:     mail.NewEmail("AgentLease", fromAddr),
		opsEmail: opsAddr,
		opsName:  "Operations",
	}
}

func (n *EmailNotifier) TimeoutClaimable(ctx context.Context, rentalID, renterID string, timeoutAt time.Time) error {
	subject := fmt.Sprintf("Rental %s timed out", rentalID)
	body := fmt.Sprintf(
		"Rental %s passed its timeout at %s without settlement.\n\nRenter %s may claim a refund; the owner has until the settlement deadline to report usage.",
		rentalID, timeoutAt.UTC().Format(time.RFC3339), renterID)
	return n.send(subject, body)
}

func (n *EmailNotifier) DeadEscrow(ctx context.Context, rentalID, escrowAccount string, amount int64) error {
	subject := fmt.Sprintf("Dead escrow on rental %s", rentalID)
	body := fmt.Sprintf(
		"Escrow account %s for rental %s holds %d atomic units unclaimed past the settlement window.\n\nOperator cleanup is required.",
		escrowAccount, rentalID, amount)
	return n.send(subject, body)
}

func (n *EmailNotifier) send(subject, body string) error {
	to := mail.NewEmail(n.opsName, n.opsEmail)
	message := mail.NewSingleEmail(n.from, subject, to, body, "")
	resp, err := n.client.Send(message)
	if err != nil {
		return domain.Dependency("sendgrid", err)
	}
	if resp.StatusCode >= 400 {
		return domain.Dependency("sendgrid", fmt.Errorf("send returned status %d", resp.StatusCode))
	}
	return nil
}
