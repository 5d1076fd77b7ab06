// Package pages renders the development server's HTML status page.
package pages

import (
	"sort"
	"strconv"

	"github.com/rohanthewiz/element"

	"pdsnotes/web/api"
)

const statusStyles = `
body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
.account { border: 1px solid #ddd; border-radius: 6px; padding: 1rem; margin-bottom: 1rem; }
.did { color: #666; font-family: monospace; }
.count { font-weight: bold; margin-left: .5rem; }
.empty { color: #999; }
`

// StatusPage lists accounts and the record counts in their repositories.
type StatusPage struct {
	Accounts []api.AccountSummary
}

func (p StatusPage) Render(b *element.Builder) (x any) {
	b.DivClass("status").R(
		b.H3Class("title").T("pdsnotes development record server"),
		b.Wrap(func() {
			if len(p.Accounts) == 0 {
				b.P("class", "empty").T("No accounts registered")
				return
			}
			for _, acct := range p.Accounts {
				element.RenderComponents(b, accountCard{acct})
			}
		}),
	)
	return
}

type accountCard struct {
	api.AccountSummary
}

func (c accountCard) Render(b *element.Builder) (x any) {
	colls := make([]string, 0, len(c.Collections))
	for coll := range c.Collections {
		colls = append(colls, coll)
	}
	sort.Strings(colls)

	b.DivClass("account").R(
		b.Header().R(
			b.Span().T(c.Handle),
			b.SpanClass("did").T(" "+c.DID),
		),
		b.Wrap(func() {
			if len(colls) == 0 {
				b.P("class", "empty").T("No records")
				return
			}
			b.Ul().R(
				b.Wrap(func() {
					for _, coll := range colls {
						b.Li().R(
							b.Span().T(coll),
							b.SpanClass("count").T(strconv.Itoa(c.Collections[coll])),
						)
					}
				}),
			)
		}),
	)
	return
}

// RenderStatus returns the full HTML document for the status page.
func RenderStatus(accounts []api.AccountSummary) string {
	b := element.NewBuilder()

	b.Html().R(
		b.Head().R(
			b.Meta("charset", "UTF-8"),
			b.Title().T("pdsnotes dev server"),
			b.Style().T(statusStyles),
		),
		b.Body().R(
			element.RenderComponents(b, StatusPage{Accounts: accounts}),
		),
	)
	return b.String()
}
