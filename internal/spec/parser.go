package spec

import (
	"strconv"
	"strings"
	"unicode"
)

const defaultKeyword = "default"

// ParseLayerName parses name and never fails: on a ParseError the whole
// name degrades to a single plain component. The error is returned so
// callers can log it.
func ParseLayerName(name string) ([]RawComponent, error) {
	comps, err := Parse(name)
	if err != nil {
		return []RawComponent{{Name: name}}, err
	}
	return comps, nil
}

// Parse turns a layer name into its components. The result is never empty.
// Items that do not describe a file come back as {Name: item}.
func Parse(name string) ([]RawComponent, error) {
	src := []rune(name)
	for i, r := range src {
		if r == 0 {
			return nil, &ParseError{Name: name, Offset: i, Reason: "name contains a NUL character"}
		}
	}

	items := splitItems(src)
	comps := make([]RawComponent, 0, len(items))

	isDefault := false
	var firstRest []rune
	if len(items) > 0 {
		firstRest, isDefault = cutDefaultKeyword(items[0].text)
	}

	for i, it := range items {
		p := &itemParser{name: name, src: it.text, base: it.offset}
		var (
			c   RawComponent
			err error
		)
		if isDefault {
			if i == 0 {
				p.src = firstRest
				p.base += len(it.text) - len(firstRest)
			}
			c, err = p.parseDefault()
			c.Name = string(it.text)
		} else {
			c, err = p.parseFile()
		}
		if err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}

	if len(comps) == 0 {
		comps = append(comps, RawComponent{Name: name})
	}
	return comps, nil
}

type item struct {
	text   []rune
	offset int
}

// splitItems splits on top-level ',' and '+' (a '+' inside a canvas
// bracket is an offset sign) and trims surrounding whitespace. Empty items
// are dropped.
func splitItems(src []rune) []item {
	var items []item
	depth := 0
	start := 0
	flush := func(end int) {
		lo, hi := start, end
		for lo < hi && unicode.IsSpace(src[lo]) {
			lo++
		}
		for hi > lo && unicode.IsSpace(src[hi-1]) {
			hi--
		}
		if hi > lo {
			items = append(items, item{text: src[lo:hi], offset: lo})
		}
	}
	for i, r := range src {
		switch r {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ',', '+':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(src))
	return items
}

func cutDefaultKeyword(text []rune) ([]rune, bool) {
	kw := []rune(defaultKeyword)
	if len(text) < len(kw) || string(text[:len(kw)]) != defaultKeyword {
		return nil, false
	}
	rest := text[len(kw):]
	if len(rest) == 0 {
		return rest, true
	}
	if !unicode.IsSpace(rest[0]) {
		return nil, false
	}
	for len(rest) > 0 && unicode.IsSpace(rest[0]) {
		rest = rest[1:]
	}
	return rest, true
}

// itemParser is a backtracking recursive-descent parser over one item.
type itemParser struct {
	name string
	src  []rune
	pos  int
	base int
}

func (p *itemParser) eof() bool { return p.pos >= len(p.src) }

func (p *itemParser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *itemParser) errorf(at int, reason string) *ParseError {
	return &ParseError{Name: p.name, Offset: p.base + at, Reason: reason}
}

func (p *itemParser) skipSpaces() int {
	n := 0
	for !p.eof() && unicode.IsSpace(p.peek()) {
		p.pos++
		n++
	}
	return n
}

// parsePrefix reads the optional size/scale and canvas directives. It
// returns false and restores the position if no directive followed by
// whitespace is present.
func (p *itemParser) parsePrefix(c *RawComponent, requireSpace bool) bool {
	start := p.pos
	saved := *c
	reset := func() {
		p.pos = start
		*c = saved
	}

	if p.parseSize(c) && p.parseDirectiveEnd(c, true, requireSpace) {
		return true
	}
	// A height that ran into the file name, as in "2x 3.png", leaves a scale.
	reset()
	if p.parseScale(c) && p.parseDirectiveEnd(c, true, requireSpace) {
		return true
	}
	reset()
	if p.parseDirectiveEnd(c, false, requireSpace) {
		return true
	}
	reset()
	return false
}

// parseDirectiveEnd reads an optional canvas after a size or scale and the
// whitespace that must separate the directives from the file name.
func (p *itemParser) parseDirectiveEnd(c *RawComponent, found, requireSpace bool) bool {
	afterSize := p.pos
	p.skipSpaces()
	if p.peek() == '[' {
		if canvas, ok := p.parseCanvas(); ok {
			c.Canvas = canvas
			found = true
		} else {
			p.pos = afterSize
		}
	} else {
		p.pos = afterSize
	}
	if !found {
		return false
	}
	return p.skipSpaces() > 0 || !requireSpace || p.eof()
}

func (p *itemParser) parseNumber() (float64, bool) {
	start := p.pos
	for !p.eof() && isDigit(p.peek()) {
		p.pos++
	}
	if p.peek() == '.' && p.pos+1 < len(p.src) && isDigit(p.src[p.pos+1]) {
		p.pos++
		for !p.eof() && isDigit(p.peek()) {
			p.pos++
		}
	}
	if p.pos == start {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(p.src[start:p.pos]), 64)
	if err != nil {
		p.pos = start
		return 0, false
	}
	return v, true
}

func (p *itemParser) parseInt() (int, bool) {
	start := p.pos
	for !p.eof() && isDigit(p.peek()) {
		p.pos++
	}
	if p.pos == start {
		return 0, false
	}
	v, err := strconv.Atoi(string(p.src[start:p.pos]))
	if err != nil {
		p.pos = start
		return 0, false
	}
	return v, true
}

// parseScale reads "NUM%" or the multiplier form "NUMx".
func (p *itemParser) parseScale(c *RawComponent) bool {
	start := p.pos
	v, ok := p.parseNumber()
	if !ok {
		return false
	}
	switch p.peek() {
	case '%':
		p.pos++
		s := v / 100
		c.Scale = &s
		return true
	case 'x', 'X':
		p.pos++
		if !p.eof() && !unicode.IsSpace(p.peek()) && p.peek() != '[' {
			break
		}
		s := v
		c.Scale = &s
		return true
	}
	p.pos = start
	return false
}

// parseSize reads "W x H" where each side is a number with an optional
// unit, or "?" for "preserve aspect".
func (p *itemParser) parseSize(c *RawComponent) bool {
	start := p.pos
	w, wu, ok := p.parseDimension()
	if !ok {
		return false
	}
	p.skipSpaces()
	if r := p.peek(); r != 'x' && r != 'X' {
		p.pos = start
		return false
	}
	p.pos++
	p.skipSpaces()
	h, hu, ok := p.parseDimension()
	if !ok {
		p.pos = start
		return false
	}
	c.Width, c.WidthUnit = w, wu
	c.Height, c.HeightUnit = h, hu
	return true
}

func (p *itemParser) parseDimension() (*float64, string, bool) {
	if p.peek() == '?' {
		p.pos++
		return nil, "", true
	}
	v, ok := p.parseNumber()
	if !ok {
		return nil, "", false
	}
	return &v, p.parseUnit(), true
}

// parseUnit reads a unit suffix. "x" separates dimensions, so apart from
// "px" a unit never contains it.
func (p *itemParser) parseUnit() string {
	if p.pos+1 < len(p.src) && unicode.ToLower(p.src[p.pos]) == 'p' && unicode.ToLower(p.src[p.pos+1]) == 'x' {
		p.pos += 2
		return string(p.src[p.pos-2 : p.pos])
	}
	start := p.pos
	for !p.eof() && unicode.IsLetter(p.peek()) && p.peek() != 'x' && p.peek() != 'X' {
		p.pos++
	}
	return string(p.src[start:p.pos])
}

// parseCanvas reads "[WxH+X-Y]", "[WxH]" or "[N]".
func (p *itemParser) parseCanvas() (*Canvas, bool) {
	start := p.pos
	fail := func() (*Canvas, bool) {
		p.pos = start
		return nil, false
	}
	if p.peek() != '[' {
		return fail()
	}
	p.pos++
	w, ok := p.parseInt()
	if !ok {
		return fail()
	}
	canvas := &Canvas{Width: w, Height: w}
	if r := p.peek(); r == 'x' || r == 'X' {
		p.pos++
		h, ok := p.parseInt()
		if !ok {
			return fail()
		}
		canvas.Height = h
		if r := p.peek(); r == '+' || r == '-' {
			x, ok := p.parseSigned()
			if !ok {
				return fail()
			}
			y, ok := p.parseSigned()
			if !ok {
				return fail()
			}
			canvas.OffsetX, canvas.OffsetY = x, y
		}
	}
	if p.peek() != ']' {
		return fail()
	}
	p.pos++
	return canvas, true
}

func (p *itemParser) parseSigned() (int, bool) {
	sign := 1
	switch p.peek() {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, false
	}
	p.pos++
	v, ok := p.parseInt()
	return sign * v, ok
}

// parseFile parses a regular (non-default) item.
func (p *itemParser) parseFile() (RawComponent, error) {
	c := RawComponent{Name: string(p.src)}
	p.parsePrefix(&c, true)

	restStart := p.pos
	rest := p.src[p.pos:]
	if len(rest) == 0 {
		return RawComponent{Name: c.Name}, nil
	}

	folders, base, err := p.splitFolders(rest, restStart, false)
	if err != nil {
		return RawComponent{}, err
	}

	file, ext, quality, ok := splitExtension(base)
	if !ok {
		return RawComponent{Name: c.Name}, nil
	}
	c.Folder = folders
	c.File = file
	c.Extension = ext
	c.Quality = quality
	return c, nil
}

// parseDefault parses an item of a "default ..." name. The text after the
// prefix is a folder path whose last segment is the file-name suffix.
func (p *itemParser) parseDefault() (RawComponent, error) {
	c := RawComponent{Name: string(p.src), Default: true}
	p.parsePrefix(&c, true)

	restStart := p.pos
	rest := p.src[p.pos:]
	if len(rest) == 0 {
		return c, nil
	}
	folders, suffix, err := p.splitFolders(rest, restStart, true)
	if err != nil {
		return RawComponent{}, err
	}
	c.Folder = folders
	c.Suffix = string(suffix)
	return c, nil
}

// splitFolders separates "a/b/file" into folder segments and the last
// segment. Empty segments, segments starting with '.' and segments starting
// with whitespace are syntax errors. A trailing '/' is only allowed when
// allowTrailing is set.
func (p *itemParser) splitFolders(rest []rune, offset int, allowTrailing bool) ([]string, []rune, error) {
	var folders []string
	segStart := 0
	for i := 0; i <= len(rest); i++ {
		if i < len(rest) && rest[i] != '/' {
			continue
		}
		seg := rest[segStart:i]
		last := i == len(rest)
		if last {
			if segStart > 0 && len(seg) > 0 && unicode.IsSpace(seg[0]) {
				return nil, nil, p.errorf(offset+segStart, "filename begins with whitespace")
			}
			if segStart > 0 && len(seg) == 0 && !allowTrailing {
				return nil, nil, p.errorf(offset+segStart, "filename is empty after folder separator")
			}
			return folders, seg, nil
		}
		switch {
		case len(seg) == 0:
			return nil, nil, p.errorf(offset+segStart, "empty folder name")
		case seg[0] == '.':
			return nil, nil, p.errorf(offset+segStart, "folder name begins with a period")
		case unicode.IsSpace(seg[0]):
			return nil, nil, p.errorf(offset+segStart, "folder name begins with whitespace")
		}
		folders = append(folders, string(seg))
		segStart = i + 1
	}
	return folders, nil, nil
}

// splitExtension finds the extension after the last '.' and peels off a
// quality suffix glued to it ("-8", "-80%", "8", or "24a" for png). The
// extension must start with a letter and contain no whitespace.
func splitExtension(base []rune) (file, ext, quality string, ok bool) {
	dot := -1
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			dot = i
			break
		}
	}
	if dot <= 0 || dot == len(base)-1 {
		return "", "", "", false
	}
	suffix := base[dot+1:]
	if !unicode.IsLetter(suffix[0]) {
		return "", "", "", false
	}
	for _, r := range suffix {
		if unicode.IsSpace(r) {
			return "", "", "", false
		}
	}

	n := 0
	for n < len(suffix) && isASCIILetter(suffix[n]) {
		n++
	}
	letters := string(suffix[:n])
	tail := string(suffix[n:])
	if n > 0 && tail != "" {
		if q, isQuality := qualitySuffix(letters, tail); isQuality {
			return string(base[:dot+1]) + letters, letters, q, true
		}
	}
	return string(base), string(suffix), "", true
}

func qualitySuffix(ext, tail string) (string, bool) {
	t := strings.TrimPrefix(tail, "-")
	if t == "" {
		return "", false
	}
	digits := 0
	for digits < len(t) && t[digits] >= '0' && t[digits] <= '9' {
		digits++
	}
	if digits == 0 {
		return "", false
	}
	switch t[digits:] {
	case "", "%":
		return t, true
	case "a":
		if strings.EqualFold(ext, "png") {
			return t, true
		}
	}
	return "", false
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
