// internal/browser/static/dom.go
package static

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xkilldash9x/wayfarer/api/schemas"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// handle references a node in one document generation.
type handle struct {
	ref        string
	generation uint64
}

func (h handle) Ref() string { return h.ref }

// register returns a handle for n. Callers must hold p.mu for writing.
func (p *Page) register(n *html.Node) handle {
	p.nextRef++
	ref := "s" + strconv.FormatUint(p.generation, 10) + "-" + strconv.FormatUint(p.nextRef, 10)
	p.nodes[ref] = n
	return handle{ref: ref, generation: p.generation}
}

// lookup resolves a handle to its node. Callers must hold p.mu.
func (p *Page) lookup(h schemas.ElementHandle) (*html.Node, error) {
	if p.closed {
		return nil, fmt.Errorf("%w: page closed", schemas.ErrTransport)
	}
	sh, ok := h.(handle)
	if !ok {
		return nil, fmt.Errorf("handle %q was not issued by a static page: %w", h.Ref(), schemas.ErrDetached)
	}
	if sh.generation != p.generation {
		return nil, fmt.Errorf("handle %q is from a previous document: %w", sh.ref, schemas.ErrDetached)
	}
	n, ok := p.nodes[sh.ref]
	if !ok {
		return nil, fmt.Errorf("handle %q is unknown: %w", sh.ref, schemas.ErrDetached)
	}
	return n, nil
}

func (p *Page) selectWithin(scope schemas.ElementHandle, selector string) (*goquery.Selection, error) {
	if p.closed {
		return nil, fmt.Errorf("%w: page closed", schemas.ErrTransport)
	}
	root := p.doc
	if scope != nil {
		n, err := p.lookup(scope)
		if err != nil {
			return nil, err
		}
		root = n
	}
	if root == nil {
		return nil, nil
	}
	// goquery treats an invalid selector as matching nothing.
	return goquery.NewDocumentFromNode(root).Find(selector), nil
}

// Query returns the first descendant of scope matching selector.
func (p *Page) Query(_ context.Context, scope schemas.ElementHandle, selector string) (schemas.ElementHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sel, err := p.selectWithin(scope, selector)
	if err != nil || sel == nil || sel.Length() == 0 {
		return nil, err
	}
	return p.register(sel.Get(0)), nil
}

// QueryAll returns every descendant of scope matching selector in document order.
func (p *Page) QueryAll(_ context.Context, scope schemas.ElementHandle, selector string) ([]schemas.ElementHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sel, err := p.selectWithin(scope, selector)
	if err != nil || sel == nil {
		return nil, err
	}
	out := make([]schemas.ElementHandle, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, p.register(n))
	}
	return out, nil
}

// Describe reports the tag, text, attributes and visibility of an element.
func (p *Page) Describe(_ context.Context, h schemas.ElementHandle) (schemas.ElementInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, err := p.lookup(h)
	if err != nil {
		return schemas.ElementInfo{}, err
	}
	info := schemas.ElementInfo{
		Tag:        strings.ToLower(n.Data),
		Text:       strings.Join(strings.Fields(goquery.NewDocumentFromNode(n).Text()), " "),
		Attributes: make(map[string]string, len(n.Attr)),
		Visible:    isVisible(n),
	}
	for _, a := range n.Attr {
		info.Attributes[a.Key] = a.Val
	}
	if info.Tag == "input" || info.Tag == "textarea" {
		info.Text = ""
	}
	return info, nil
}

// Act performs kind on the element behind h.
func (p *Page) Act(ctx context.Context, h schemas.ElementHandle, kind schemas.ActKind, value string) error {
	p.mu.Lock()
	n, err := p.lookup(h)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if kind != schemas.ActDispatchClick {
		if err := interactable(n); err != nil {
			p.mu.Unlock()
			return err
		}
	}

	switch kind {
	case schemas.ActFill:
		err = fill(n, value)
		if err == nil {
			p.focused = n
		}
		p.mu.Unlock()
		return err
	case schemas.ActSelect:
		err = selectOption(n, value)
		p.mu.Unlock()
		return err
	case schemas.ActClick, schemas.ActDispatchClick:
		p.mu.Unlock()
		return p.clickConsequence(ctx, n)
	default:
		p.mu.Unlock()
		return fmt.Errorf("static page action '%s': %w", kind, schemas.ErrUnsupported)
	}
}

// clickConsequence emulates what a click does without scripts: follow links,
// submit forms and toggle checkable inputs.
func (p *Page) clickConsequence(ctx context.Context, n *html.Node) error {
	tag := strings.ToLower(n.Data)

	if link := closestLink(n); link != nil {
		href := strings.TrimSpace(attr(link, "href"))
		if href != "" && !strings.HasPrefix(strings.ToLower(href), "javascript:") && !strings.HasPrefix(href, "#") {
			_, err := p.Navigate(ctx, href)
			return err
		}
	}

	inputType := strings.ToLower(attr(n, "type"))
	isSubmit := (tag == "button" && (inputType == "submit" || inputType == "")) ||
		(tag == "input" && (inputType == "submit" || inputType == "image"))
	if isSubmit {
		if form := findParentForm(n); form != nil {
			return p.submitForm(ctx, form)
		}
	}

	if tag == "input" {
		p.mu.Lock()
		defer p.mu.Unlock()
		switch inputType {
		case "checkbox":
			if hasAttr(n, "checked") {
				removeAttr(n, "checked")
			} else {
				setAttr(n, "checked", "checked")
			}
		case "radio":
			checkRadio(n)
		}
		return nil
	}

	p.logger.Debug("Click had no static consequence", zap.String("tag", tag))
	return nil
}

// submitForm serializes form and sends it, replacing the current document.
func (p *Page) submitForm(ctx context.Context, form *html.Node) error {
	p.mu.RLock()
	action := attr(form, "action")
	method := strings.ToUpper(attr(form, "method"))
	values := url.Values{}
	goquery.NewDocumentFromNode(form).Find("input, textarea, select").Each(func(_ int, s *goquery.Selection) {
		field := s.Get(0)
		name := attr(field, "name")
		if name == "" || hasAttr(field, "disabled") {
			return
		}
		switch strings.ToLower(field.Data) {
		case "input":
			switch strings.ToLower(attr(field, "type")) {
			case "checkbox", "radio":
				if hasAttr(field, "checked") {
					v := attr(field, "value")
					if v == "" {
						v = "on"
					}
					values.Add(name, v)
				}
			case "submit", "button", "image", "reset", "file":
			default:
				values.Add(name, attr(field, "value"))
			}
		case "textarea":
			values.Add(name, s.Text())
		case "select":
			s.Find("option[selected]").Each(func(_ int, opt *goquery.Selection) {
				v, ok := opt.Attr("value")
				if !ok {
					v = strings.TrimSpace(opt.Text())
				}
				values.Add(name, v)
			})
		}
	})
	p.mu.RUnlock()

	target, err := p.resolveURL(action)
	if err != nil {
		return fmt.Errorf("failed to determine form submission URL: %w", err)
	}

	var req *http.Request
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(values.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		u := *target
		u.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
	}
	p.logger.Debug("Submitting form", zap.String("method", req.Method), zap.String("url", req.URL.String()))
	return p.execute(ctx, req)
}

func interactable(n *html.Node) error {
	if hasAttr(n, "disabled") || strings.EqualFold(attr(n, "aria-disabled"), "true") {
		return fmt.Errorf("<%s> is disabled: %w", n.Data, schemas.ErrNotInteractable)
	}
	if !isVisible(n) {
		return fmt.Errorf("<%s> is hidden: %w", n.Data, schemas.ErrNotInteractable)
	}
	return nil
}

func fill(n *html.Node, value string) error {
	switch strings.ToLower(n.Data) {
	case "textarea":
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
		return nil
	case "input":
		switch strings.ToLower(attr(n, "type")) {
		case "checkbox", "radio", "submit", "button", "image", "reset", "file":
			return fmt.Errorf("input of type '%s' cannot be filled", attr(n, "type"))
		}
		setAttr(n, "value", value)
		return nil
	default:
		if strings.EqualFold(attr(n, "contenteditable"), "true") {
			for c := n.FirstChild; c != nil; {
				next := c.NextSibling
				n.RemoveChild(c)
				c = next
			}
			n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
			return nil
		}
		return fmt.Errorf("<%s> is not a fillable element", n.Data)
	}
}

// selectOption marks the option whose value or label equals value.
func selectOption(n *html.Node, value string) error {
	if !strings.EqualFold(n.Data, "select") {
		return fmt.Errorf("<%s> is not a select element", n.Data)
	}
	var match *html.Node
	options := goquery.NewDocumentFromNode(n).Find("option")
	options.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr("value")
		label := strings.TrimSpace(s.Text())
		if (ok && v == value) || strings.EqualFold(label, value) {
			match = s.Get(0)
			return false
		}
		return true
	})
	if match == nil {
		return fmt.Errorf("option '%s' not found", value)
	}
	for _, opt := range options.Nodes {
		removeAttr(opt, "selected")
	}
	setAttr(match, "selected", "selected")
	return nil
}

func checkRadio(n *html.Node) {
	name := attr(n, "name")
	root := findParentForm(n)
	if root == nil {
		root = n
		for root.Parent != nil {
			root = root.Parent
		}
	}
	if name != "" {
		goquery.NewDocumentFromNode(root).Find("input[type=radio]").Each(func(_ int, s *goquery.Selection) {
			if attr(s.Get(0), "name") == name {
				removeAttr(s.Get(0), "checked")
			}
		})
	}
	setAttr(n, "checked", "checked")
}

func isVisible(n *html.Node) bool {
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if hasAttr(cur, "hidden") {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(attr(cur, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return !(strings.EqualFold(n.Data, "input") && strings.EqualFold(attr(n, "type"), "hidden"))
}

func closestLink(n *html.Node) *html.Node {
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if strings.EqualFold(cur.Data, "a") && hasAttr(cur, "href") {
			return cur
		}
	}
	return nil
}

func findParentForm(n *html.Node) *html.Node {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, "form") {
			return cur
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
