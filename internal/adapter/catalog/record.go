package catalog

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type searchResponse struct {
	Info struct {
		Total int `json:"total"`
	} `json:"info"`
	Docs []doc `json:"docs"`
}

type doc struct {
	PNX struct {
		Display struct {
			Title        []string `json:"title"`
			Creator      []string `json:"creator"`
			Contributor  []string `json:"contributor"`
			CreationDate []string `json:"creationdate"`
			Type         []string `json:"type"`
			Subject      []string `json:"subject"`
		} `json:"display"`
		Addata struct {
			Date []string `json:"date"`
		} `json:"addata"`
	} `json:"pnx"`
	Delivery struct {
		BestLocation *location `json:"bestlocation"`
		Availability []string  `json:"availability"`
	} `json:"delivery"`
}

type location struct {
	MainLocation string `json:"mainLocation"`
	SubLocation  string `json:"subLocation"`
	CallNumber   string `json:"callNumber"`
}

func (d doc) record() Record {
	display := d.PNX.Display

	author := cleanValue(first(display.Creator))
	if author == "" {
		author = cleanValue(first(display.Contributor))
	}
	if author == "" {
		author = "Unknown author"
	}

	year := first(display.CreationDate)
	if year == "" {
		year = first(d.PNX.Addata.Date)
	}
	if year == "" {
		year = "Unknown"
	}

	title := cleanValue(first(display.Title))
	if title == "" {
		title = "Untitled"
	}

	return Record{
		Title:               title,
		Author:              author,
		PublicationYear:     year,
		BookType:            bookType(first(display.Type)),
		Subjects:            subjects(display.Subject),
		LocationInformation: d.locationInformation(),
	}
}

func (d doc) locationInformation() string {
	loc := d.Delivery.BestLocation
	if loc == nil || (loc.MainLocation == "" && loc.SubLocation == "") {
		for _, a := range d.Delivery.Availability {
			if strings.HasPrefix(a, "fulltext") {
				return "Available online"
			}
		}
		return "Location not available"
	}

	parts := make([]string, 0, 2)
	if loc.MainLocation != "" {
		parts = append(parts, strings.TrimSpace(loc.MainLocation))
	}
	if loc.SubLocation != "" {
		parts = append(parts, strings.TrimSpace(loc.SubLocation))
	}
	info := strings.Join(parts, ", ")
	if callNumber := strings.Trim(strings.TrimSpace(loc.CallNumber), "()"); callNumber != "" {
		info += " (" + callNumber + ")"
	}
	return info
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// cleanValue strips the "$$Q..." sort keys the discovery API appends.
func cleanValue(v string) string {
	if idx := strings.Index(v, "$$"); idx >= 0 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}

func subjects(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{})
	for _, v := range values {
		for _, s := range strings.Split(v, ";") {
			s = cleanValue(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func bookType(raw string) string {
	switch strings.ToLower(raw) {
	case "":
		return "Unknown"
	case "book", "books":
		return "Book"
	case "ebook", "electronic_book":
		return "eBook"
	case "journal", "journals":
		return "Journal"
	case "article", "articles":
		return "Article"
	case "video", "videos":
		return "Video"
	default:
		first, size := utf8.DecodeRuneInString(raw)
		return string(unicode.ToUpper(first)) + strings.ReplaceAll(raw[size:], "_", " ")
	}
}
