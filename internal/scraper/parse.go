package scraper

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ipeds/internal/ipedserr"
)

// Entry is one downloadable table listed on the portal for a year.
//
// Table is the canonical lowercase table name and the natural key: within one
// listing, the first row naming a table wins.
type Entry struct {
	Year          int
	Survey        string
	Title         string
	Table         string
	DataURL       string
	DictionaryURL string // empty when the row has no dictionary link
}

// Result table column positions. The dictionary link is always the row's
// last cell, provided it comes after the data cell.
const (
	cellYear          = 0
	cellSurvey        = 1
	cellTitle         = 2
	cellData          = 3
	firstOptionalCell = 4
)

// ParseIndex turns a listing page into entries. It is pure: no I/O.
//
// pageURL resolves relative links. year is used when a row's own year cell is
// not a number. selector locates the results table; an empty selector uses
// the portal default.
//
// Errors:
//   - CodeRemoteFetch when the HTML cannot be parsed or the results table is
//     absent (the portal changed or returned an error page).
func ParseIndex(html, pageURL string, year int, selector string) ([]Entry, error) {
	if selector == "" {
		selector = defaultSelector
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, ipedserr.Wrapf(err, ipedserr.CodeRemoteFetch, "parse page url %q", pageURL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, ipedserr.Wrap(err, ipedserr.CodeRemoteFetch, "parse listing html")
	}

	results := doc.Find(selector).First()
	if results.Length() == 0 {
		return nil, ipedserr.Newf(ipedserr.CodeRemoteFetch, "listing for %d: results table %q not found", year, selector)
	}

	var out []Entry
	seen := make(map[string]bool)

	results.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() <= cellData {
			return // header or spacer row
		}

		dataLink := cells.Eq(cellData).Find("a[href]").First()
		href, ok := dataLink.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		dataURL, err := resolve(base, href)
		if err != nil {
			return
		}

		name := tableName(dataLink.Text(), dataURL)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true

		e := Entry{
			Year:    year,
			Survey:  cellText(cells.Eq(cellSurvey)),
			Title:   cellText(cells.Eq(cellTitle)),
			Table:   name,
			DataURL: dataURL,
		}
		if y, err := strconv.Atoi(cellText(cells.Eq(cellYear))); err == nil && y > 0 {
			e.Year = y
		}
		if last := cells.Length() - 1; last >= firstOptionalCell {
			if h, ok := cells.Eq(last).Find("a[href]").Last().Attr("href"); ok && strings.TrimSpace(h) != "" {
				if u, err := resolve(base, h); err == nil {
					e.DictionaryURL = u
				}
			}
		}
		out = append(out, e)
	})
	return out, nil
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// tableName is the link text lowercased, or the URL base name without its
// extension when the text is not a plain identifier.
func tableName(linkText, dataURL string) string {
	t := strings.ToLower(strings.TrimSpace(linkText))
	if isIdent(t) {
		return t
	}
	u, err := url.Parse(dataURL)
	if err != nil {
		return ""
	}
	b := path.Base(u.Path)
	if b == "/" || b == "." {
		return ""
	}
	t = strings.ToLower(strings.TrimSuffix(b, path.Ext(b)))
	if !isIdent(t) {
		return ""
	}
	return t
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// String renders the entry for logs.
func (e Entry) String() string {
	return fmt.Sprintf("%d %s %s", e.Year, e.Table, e.DataURL)
}
