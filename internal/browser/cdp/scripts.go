package cdp

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// refAttribute stamps elements handed out as handles.
const refAttribute = "data-wayfarer-ref"

// helperScript installs window.__wayfarer once per document. Refs carry a
// per-document token so a handle from a previous document never resolves
// against the current one.
const helperScript = `(() => {
  if (window.__wayfarer) return;
  const token = Math.random().toString(36).slice(2, 10);
  const attr = '` + refAttribute + `';
  let seq = 0;
  window.__wayfarer = {
    stamp(el) {
      let ref = el.getAttribute(attr);
      if (!ref || !ref.startsWith(token + ':')) {
        ref = token + ':' + (++seq);
        el.setAttribute(attr, ref);
      }
      return ref;
    },
    find(ref) {
      if (!ref) return document;
      if (!ref.startsWith(token + ':')) return null;
      return document.querySelector('[' + attr + '="' + ref + '"]');
    },
    visible(el) {
      const style = window.getComputedStyle(el);
      if (style.display === 'none' || style.visibility === 'hidden') return false;
      const r = el.getBoundingClientRect();
      return r.width > 0 || r.height > 0;
    },
    blocked(el) {
      if (el.disabled || el.getAttribute('aria-disabled') === 'true') return 'disabled';
      if (!this.visible(el)) return 'hidden';
      return '';
    },
  };
})();`

const queryScript = `(scope, selector, all) => {
  const w = window.__wayfarer;
  const root = w.find(scope);
  if (!root) return {detached: true};
  let els;
  try {
    els = all ? Array.from(root.querySelectorAll(selector)) : [root.querySelector(selector)].filter(Boolean);
  } catch (e) {
    return {error: String(e)};
  }
  return {refs: els.map((el) => w.stamp(el))};
}`

const describeScript = `(ref) => {
  const w = window.__wayfarer;
  const el = w.find(ref);
  if (!el || el === document) return {detached: true};
  const attributes = {};
  for (const a of el.attributes) {
    if (a.name !== '` + refAttribute + `') attributes[a.name] = a.value;
  }
  const tag = el.tagName.toLowerCase();
  const text = (tag === 'input' || tag === 'textarea') ? '' : (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim();
  return {tag, text, attributes, visible: w.visible(el)};
}`

// clickTargetScript checks an element can take a pointer click and returns
// the viewport point to click.
const clickTargetScript = `(ref) => {
  const w = window.__wayfarer;
  const el = w.find(ref);
  if (!el || el === document) return {status: 'detached'};
  const blocked = w.blocked(el);
  if (blocked) return {status: 'not_interactable', reason: blocked};
  el.scrollIntoView({block: 'center', inline: 'center'});
  const r = el.getBoundingClientRect();
  const x = r.left + r.width / 2, y = r.top + r.height / 2;
  const hit = document.elementFromPoint(x, y);
  if (hit && hit !== el && !el.contains(hit)) return {status: 'not_interactable', reason: 'obscured'};
  return {status: 'ok', x, y};
}`

const actScript = `(ref, kind, value) => {
  const w = window.__wayfarer;
  const el = w.find(ref);
  if (!el || el === document) return {status: 'detached'};
  if (kind !== 'dispatch_click') {
    const blocked = w.blocked(el);
    if (blocked) return {status: 'not_interactable', reason: blocked};
  }
  switch (kind) {
  case 'dispatch_click':
    el.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true, view: window}));
    return {status: 'ok'};
  case 'fill':
    if (!('value' in el)) return {status: 'error', reason: 'element does not accept text'};
    el.focus();
    el.value = value;
    el.dispatchEvent(new Event('input', {bubbles: true}));
    el.dispatchEvent(new Event('change', {bubbles: true}));
    return {status: 'ok'};
  case 'select': {
    if (el.tagName !== 'SELECT') return {status: 'error', reason: 'not a select element'};
    const opt = Array.from(el.options).find((o) => o.value === value || o.text.trim() === value);
    if (!opt) return {status: 'error', reason: 'no option ' + value};
    el.value = opt.value;
    el.dispatchEvent(new Event('change', {bubbles: true}));
    return {status: 'ok'};
  }
  }
  return {status: 'unsupported'};
}`

const readyStateScript = `document.readyState`

// invoke renders a call of fn with JSON encoded args, preceded by the helper
// installation.
func invoke(fn string, args ...interface{}) string {
	encoded := make([]string, len(args))
	for i, a := range args {
		encoded[i] = jsonEncode(a)
	}
	return fmt.Sprintf("%s\n(%s)(%s)", helperScript, fn, strings.Join(encoded, ", "))
}

// jsonEncode encodes a value for safe injection into a script.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

type queryResult struct {
	Detached bool     `json:"detached"`
	Error    string   `json:"error"`
	Refs     []string `json:"refs"`
}

type describeResult struct {
	Detached   bool              `json:"detached"`
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
	Visible    bool              `json:"visible"`
}

type actResult struct {
	Status string  `json:"status"`
	Reason string  `json:"reason"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}
