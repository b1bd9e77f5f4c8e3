package service

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/unclebandit/broadcast-service/internal/model"
)

var (
	anchorHref = regexp.MustCompile(`(?i)(<a\b[^>]*?\shref\s*=\s*)(?:"([^"]*)"|'([^']*)'|([^\s"'>]+))`)
	bodyClose  = regexp.MustCompile(`(?i)</body\s*>`)
)

// Augmenter adds engagement tracking to a rendered email body.
type Augmenter struct {
	TrackingBaseURL string
	UnsubscribeBase string
}

func (a *Augmenter) PixelURL(logID string) string {
	return a.TrackingBaseURL + "/tracking/pixel/" + url.PathEscape(logID)
}

func (a *Augmenter) ClickURL(logID, target string) string {
	return a.TrackingBaseURL + "/tracking/click/" + url.PathEscape(logID) + "?url=" + url.QueryEscape(target)
}

// Augment wraps trackable links and appends the open pixel. It is not
// idempotent: call it once per rendered body.
func (a *Augmenter) Augment(body, logID string) string {
	out := anchorHref.ReplaceAllStringFunc(body, func(match string) string {
		parts := anchorHref.FindStringSubmatch(match)
		prefix := parts[1]
		quote, raw := `"`, parts[2]
		switch match[len(prefix)] {
		case '\'':
			quote, raw = "'", parts[3]
		case '"':
		default:
			raw = parts[4]
		}

		target := html.UnescapeString(strings.TrimSpace(raw))
		if !a.trackable(target) {
			return match
		}
		return prefix + quote + html.EscapeString(a.ClickURL(logID, target)) + quote
	})

	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none" />`, a.PixelURL(logID))
	if loc := lastIndex(bodyClose, out); loc >= 0 {
		return out[:loc] + pixel + out[loc:]
	}
	return out + pixel
}

// trackable is false for tracking and unsubscribe links and for anything
// that is not an absolute http(s) URL.
func (a *Augmenter) trackable(target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return !under(u, a.TrackingBaseURL) && !under(u, a.UnsubscribeBase)
}

// under reports whether u has base's scheme and host and a path at or below
// base's path.
func under(u *url.URL, base string) bool {
	if base == "" {
		return false
	}
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return false
	}
	if !strings.EqualFold(u.Scheme, b.Scheme) || !strings.EqualFold(u.Host, b.Host) {
		return false
	}
	prefix := strings.TrimRight(b.Path, "/")
	return prefix == "" || u.Path == prefix || strings.HasPrefix(u.Path, prefix+"/")
}

func lastIndex(re *regexp.Regexp, s string) int {
	all := re.FindAllStringIndex(s, -1)
	if len(all) == 0 {
		return -1
	}
	return all[len(all)-1][0]
}

// BuildFooter renders the company block. The unsubscribe link is left as a
// shortcode so the renderer personalizes it.
func BuildFooter(f *model.FooterSettings) string {
	if f == nil {
		f = &model.FooterSettings{}
	}
	var b strings.Builder
	b.WriteString(`<div class="broadcast-footer" style="margin-top:24px;font-size:12px;color:#666">`)
	if f.CompanyName != "" {
		fmt.Fprintf(&b, `<p><strong>%s</strong></p>`, html.EscapeString(f.CompanyName))
	}
	if f.Address != "" {
		fmt.Fprintf(&b, `<p>%s</p>`, html.EscapeString(f.Address))
	}
	var contact []string
	if f.ContactEmail != "" {
		e := html.EscapeString(f.ContactEmail)
		contact = append(contact, fmt.Sprintf(`<a href="mailto:%s">%s</a>`, e, e))
	}
	if f.ContactPhone != "" {
		p := html.EscapeString(f.ContactPhone)
		contact = append(contact, fmt.Sprintf(`<a href="tel:%s">%s</a>`, p, p))
	}
	if len(contact) > 0 {
		fmt.Fprintf(&b, `<p>%s</p>`, strings.Join(contact, " | "))
	}
	if len(f.SocialLinks) > 0 {
		links := make([]string, 0, len(f.SocialLinks))
		for _, s := range f.SocialLinks {
			links = append(links, fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(s.URL), html.EscapeString(s.Label)))
		}
		fmt.Fprintf(&b, `<p>%s</p>`, strings.Join(links, " · "))
	}
	b.WriteString(`<p><a href="{unsubscribe_link}">Unsubscribe</a></p></div>`)
	return b.String()
}

// ComposeEmailBody inserts the footer before </body>, or appends it.
func ComposeEmailBody(body string, footer *model.FooterSettings) string {
	block := BuildFooter(footer)
	if loc := lastIndex(bodyClose, body); loc >= 0 {
		return body[:loc] + block + body[loc:]
	}
	return body + block
}
