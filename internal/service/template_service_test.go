package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/broadcast-service/internal/model"
)

func newTestRenderer() *Renderer {
	return &Renderer{
		SiteName:        "Acme Academy",
		SiteURL:         "https://acme.test",
		DefaultLocale:   "en",
		DefaultCurrency: "USD",
		Now:             func() time.Time { return time.Date(2025, time.March, 4, 9, 0, 0, 0, time.UTC) },
	}
}

func sampleRecipient() *model.Recipient {
	expiry := time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC)
	return &model.Recipient{
		ID:         42,
		Name:       "Alice Smith",
		FirstName:  "Alice",
		Email:      "alice@example.com",
		ChatHandle: "+254700000001",
		Role:       "student",
		Locale:     "en",
		Membership: &model.MembershipSnapshot{PlanID: 3, PlanName: "Gold", Status: "active", ExpiresAt: &expiry},
		Transaction: &model.TransactionSnapshot{
			ID:            9,
			InvoiceNumber: "INV-0009",
			Amount:        1234.5,
			Currency:      "USD",
			Status:        "PAID",
			Type:          "membership",
			CreatedAt:     time.Date(2025, time.February, 14, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestVocabularyIsClosed(t *testing.T) {
	expected := []string{
		"amount", "current_date", "dashboard_link", "email", "first_name", "invoice_link",
		"invoice_number", "membership_expiry", "membership_plan", "membership_status", "name",
		"phone", "role", "site_name", "transaction_date", "transaction_status", "unsubscribe_link",
	}
	assert.Equal(t, expected, Vocabulary())
}

func TestRenderSubstitutesKnownTokens(t *testing.T) {
	r := newTestRenderer()
	out := r.Render("Hi {first_name}, your {membership_plan} plan ({membership_status}) ends {membership_expiry}.", sampleRecipient())

	assert.Equal(t, "Hi Alice, your Gold plan (active) ends December 31, 2025.", out)
}

func TestRenderTransactionTokens(t *testing.T) {
	r := newTestRenderer()
	out := r.Render("{invoice_number} for {amount} is {transaction_status} since {transaction_date}: {invoice_link}", sampleRecipient())

	assert.Equal(t, "INV-0009 for $1,234.50 is PAID since February 14, 2025: https://acme.test/invoices/INV-0009", out)
}

func TestRenderLinksAndSite(t *testing.T) {
	r := newTestRenderer()
	out := r.Render("{site_name} {dashboard_link} {unsubscribe_link} {current_date}", sampleRecipient())

	assert.Equal(t, "Acme Academy https://acme.test/dashboard https://acme.test/unsubscribe?uid=42 March 4, 2025", out)
}

func TestRenderAbsentValuesUseDash(t *testing.T) {
	r := newTestRenderer()
	rec := &model.Recipient{ID: 1, Name: "Bob"}

	out := r.Render("{first_name}|{email}|{amount}|{membership_plan}|{invoice_link}|{transaction_date}", rec)
	assert.Equal(t, "Bob|-|-|-|-|-", out)
}

func TestRenderLeavesUnknownTokens(t *testing.T) {
	r := newTestRenderer()
	out := r.Render("Hello {nickname} and {NAME} and {name}", sampleRecipient())

	assert.Equal(t, "Hello {nickname} and {NAME} and Alice Smith", out)
}

func TestRenderIdentityWithoutTokens(t *testing.T) {
	r := newTestRenderer()
	for _, tpl := range []string{"", "plain text", "<p>braces { not a token }</p>", "{}"} {
		assert.Equal(t, tpl, r.Render(tpl, sampleRecipient()))
	}
}

func TestRenderLeavesNoKnownTokens(t *testing.T) {
	r := newTestRenderer()
	tpl := ""
	for _, name := range Vocabulary() {
		tpl += "{" + name + "} "
	}

	out := r.Render(tpl, &model.Recipient{})
	for _, name := range Vocabulary() {
		assert.NotContains(t, out, "{"+name+"}")
	}
}

func TestRenderDoesNotReexpandValues(t *testing.T) {
	r := newTestRenderer()
	rec := &model.Recipient{Name: "{email}", Email: "x@example.com"}

	assert.Equal(t, "{email}", r.Render("{name}", rec))
}

func TestRenderLocaleAware(t *testing.T) {
	r := newTestRenderer()
	rec := sampleRecipient()
	rec.Locale = "de"
	rec.Transaction.Currency = "EUR"

	assert.Equal(t, "€1.234,50 / 31. Dezember 2025", r.Render("{amount} / {membership_expiry}", rec))

	rec.Locale = "fr"
	assert.Equal(t, "4 mars 2025", r.Render("{current_date}", rec))
}

func TestRenderIndonesianLocale(t *testing.T) {
	r := newTestRenderer()
	rec := sampleRecipient()
	rec.Locale = "id"
	rec.Transaction.Currency = "IDR"
	rec.Transaction.Amount = 150000
	rec.Transaction.CreatedAt = time.Date(2025, time.March, 4, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "Rp 150.000 | 4 Maret 2025", r.Render("{amount} | {transaction_date}", rec))
}

func TestRenderUnknownLocaleFallsBackToEnglishDates(t *testing.T) {
	r := newTestRenderer()
	rec := sampleRecipient()
	rec.Locale = "zz"

	assert.Equal(t, "March 4, 2025", r.Render("{current_date}", rec))
}

func TestRenderHTMLEscapesValues(t *testing.T) {
	r := newTestRenderer()
	rec := sampleRecipient()
	rec.Name = "<b>Tom & Jerry</b>"
	rec.Transaction.InvoiceNumber = "INV&1"
	tpl := `<p>{name}</p><a href="{invoice_link}">invoice</a>`

	assert.Equal(t, `<p>&lt;b&gt;Tom &amp; Jerry&lt;/b&gt;</p><a href="https://acme.test/invoices/INV&amp;1">invoice</a>`, r.RenderHTML(tpl, rec))
	assert.Equal(t, `<p><b>Tom & Jerry</b></p><a href="https://acme.test/invoices/INV&1">invoice</a>`, r.Render(tpl, rec))
}

func TestRenderCurrencyScale(t *testing.T) {
	r := newTestRenderer()
	rec := sampleRecipient()
	rec.Transaction.Currency = "JPY"
	rec.Transaction.Amount = 5000

	assert.Equal(t, "¥5,000", r.Render("{amount}", rec))

	rec.Transaction.Currency = "CHF"
	rec.Transaction.Amount = 12
	assert.Equal(t, "CHF 12.00", r.Render("{amount}", rec))
}

func TestFirstNameFallsBackToName(t *testing.T) {
	r := newTestRenderer()
	assert.Equal(t, "Carol", r.Render("{first_name}", &model.Recipient{Name: "Carol Jones"}))
}
