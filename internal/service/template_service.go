// internal/service/template_service.go
package service

import (
	"html"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goodsign/monday"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/unclebandit/broadcast-service/internal/model"
)

// emptyValue is rendered for tokens whose value is absent.
const emptyValue = "-"

var shortcodePattern = regexp.MustCompile(`\{([a-z_]+)\}`)

type tokenFunc func(r *Renderer, rec *model.Recipient) string

// shortcodes is the closed personalization vocabulary.
var shortcodes = map[string]tokenFunc{
	"name":       func(_ *Renderer, rec *model.Recipient) string { return rec.Name },
	"first_name": func(_ *Renderer, rec *model.Recipient) string { return firstName(rec) },
	"email":      func(_ *Renderer, rec *model.Recipient) string { return rec.Email },
	"phone":      func(_ *Renderer, rec *model.Recipient) string { return rec.ChatHandle },
	"role":       func(_ *Renderer, rec *model.Recipient) string { return rec.Role },
	"membership_plan": func(_ *Renderer, rec *model.Recipient) string {
		if rec.Membership == nil {
			return ""
		}
		return rec.Membership.PlanName
	},
	"membership_status": func(_ *Renderer, rec *model.Recipient) string {
		if rec.Membership == nil {
			return ""
		}
		return rec.Membership.Status
	},
	"membership_expiry": func(r *Renderer, rec *model.Recipient) string {
		if rec.Membership == nil || rec.Membership.ExpiresAt == nil {
			return ""
		}
		return r.longDate(*rec.Membership.ExpiresAt, rec)
	},
	"amount": func(r *Renderer, rec *model.Recipient) string {
		if rec.Transaction == nil {
			return ""
		}
		return r.money(rec.Transaction.Amount, rec.Transaction.Currency, rec)
	},
	"invoice_number": func(_ *Renderer, rec *model.Recipient) string {
		if rec.Transaction == nil {
			return ""
		}
		return rec.Transaction.InvoiceNumber
	},
	"transaction_status": func(_ *Renderer, rec *model.Recipient) string {
		if rec.Transaction == nil {
			return ""
		}
		return rec.Transaction.Status
	},
	"transaction_date": func(r *Renderer, rec *model.Recipient) string {
		if rec.Transaction == nil {
			return ""
		}
		return r.longDate(rec.Transaction.CreatedAt, rec)
	},
	"dashboard_link": func(r *Renderer, _ *model.Recipient) string { return r.SiteURL + "/dashboard" },
	"invoice_link": func(r *Renderer, rec *model.Recipient) string {
		if rec.Transaction == nil || rec.Transaction.InvoiceNumber == "" {
			return ""
		}
		return r.SiteURL + "/invoices/" + url.PathEscape(rec.Transaction.InvoiceNumber)
	},
	"unsubscribe_link": func(r *Renderer, rec *model.Recipient) string { return r.UnsubscribeURL(rec.ID) },
	"site_name":        func(r *Renderer, _ *model.Recipient) string { return r.SiteName },
	"current_date":     func(r *Renderer, rec *model.Recipient) string { return r.longDate(r.now(), rec) },
}

// Vocabulary lists the supported shortcodes in sorted order.
func Vocabulary() []string {
	names := make([]string, 0, len(shortcodes))
	for name := range shortcodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Renderer substitutes shortcodes with recipient data.
type Renderer struct {
	SiteName        string
	SiteURL         string
	DefaultLocale   string
	DefaultCurrency string
	Now             func() time.Time
}

// UnsubscribeBase is the prefix shared by every unsubscribe link.
func (r *Renderer) UnsubscribeBase() string {
	return r.SiteURL + "/unsubscribe"
}

func (r *Renderer) UnsubscribeURL(recipientID int) string {
	return r.UnsubscribeBase() + "?uid=" + strconv.Itoa(recipientID)
}

// Render replaces every known {token} in template. Unknown tokens are left
// untouched and absent values render as "-".
func (r *Renderer) Render(template string, rec *model.Recipient) string {
	return r.render(template, rec, nil)
}

// RenderHTML is Render for markup: substituted values are HTML-escaped so
// recipient data cannot open tags or break attributes.
func (r *Renderer) RenderHTML(template string, rec *model.Recipient) string {
	return r.render(template, rec, html.EscapeString)
}

func (r *Renderer) render(template string, rec *model.Recipient, escape func(string) string) string {
	if !strings.Contains(template, "{") {
		return template
	}
	return shortcodePattern.ReplaceAllStringFunc(template, func(tok string) string {
		fn, ok := shortcodes[tok[1:len(tok)-1]]
		if !ok {
			return tok
		}
		v := strings.TrimSpace(fn(r, rec))
		if v == "" {
			return emptyValue
		}
		if escape != nil {
			return escape(v)
		}
		return v
	})
}

func (r *Renderer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Renderer) tag(rec *model.Recipient) language.Tag {
	loc := rec.Locale
	if loc == "" {
		loc = r.DefaultLocale
	}
	tag, err := language.Parse(loc)
	if err != nil {
		return language.English
	}
	return tag
}

func (r *Renderer) money(amount float64, code string, rec *model.Recipient) string {
	if code == "" {
		code = r.DefaultCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		unit = currency.USD
	}
	scale, _ := currency.Standard.Rounding(unit)

	p := message.NewPrinter(r.tag(rec))
	digits := p.Sprint(number.Decimal(amount, number.Scale(scale)))
	sym := p.Sprint(currency.NarrowSymbol(unit))

	// Single glyphs ($, €) attach to the amount, codes and abbreviations do not.
	if utf8.RuneCountInString(sym) == 1 {
		return sym + digits
	}
	return sym + " " + digits
}

const fallbackLongLayout = "January 2, 2006"

// dateLocale maps the recipient language to a monday locale with a long date
// layout, using the likely region when the tag carries none ("id" -> id_ID).
func (r *Renderer) dateLocale(rec *model.Recipient) monday.Locale {
	tag := r.tag(rec)
	base, _ := tag.Base()
	region, _ := tag.Region()
	loc := monday.Locale(base.String() + "_" + region.String())
	if _, ok := monday.LongFormatsByLocale[loc]; ok {
		return loc
	}
	return monday.LocaleEnUS
}

func (r *Renderer) longDate(t time.Time, rec *model.Recipient) string {
	loc := r.dateLocale(rec)
	layout, ok := monday.LongFormatsByLocale[loc]
	if !ok {
		layout = fallbackLongLayout
	}
	return monday.Format(t, layout, loc)
}

func firstName(rec *model.Recipient) string {
	if rec.FirstName != "" {
		return rec.FirstName
	}
	if fields := strings.Fields(rec.Name); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
