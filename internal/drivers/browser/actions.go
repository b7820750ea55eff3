package browser

import (
	"encoding/json"
	"fmt"
)

// The in-page scripts share one element resolver: candidates starting
// with "//" run through document.evaluate as XPath, everything else
// through querySelector.

const resolverJS = `
function __adsumFind(candidates) {
	for (const sel of candidates) {
		let el = null;
		try {
			if (sel.startsWith('//')) {
				el = document.evaluate(sel, document, null,
					XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			} else {
				el = document.querySelector(sel);
			}
		} catch (e) {
			continue;
		}
		if (el) return el;
	}
	return null;
}
`

// fillScript sets value on the first matching input through the
// native property setter, then fires input/change so bound frameworks
// pick it up. Evaluates to true when an input was filled.
func fillScript(candidates []string, value string) string {
	candidatesJSON := mustJSON(candidates)
	valueJSON := mustJSON(value)
	return fmt.Sprintf(`(() => {
	%s
	const el = __adsumFind(%s);
	if (!el) return false;
	const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
	setter.call(el, %s);
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})()`, resolverJS, candidatesJSON, valueJSON)
}

// findAndActScript locates the first matching element, optionally
// clicks it when enabled, and evaluates to {found, acted, enabled,
// label}.
func findAndActScript(candidates []string, click bool) string {
	candidatesJSON := mustJSON(candidates)
	return fmt.Sprintf(`(() => {
	%s
	const el = __adsumFind(%s);
	if (!el) return { found: false, acted: false, enabled: false, label: '' };
	const enabled = !el.disabled && !el.hasAttribute('disabled') &&
		el.getAttribute('aria-disabled') !== 'true';
	const label = (el.innerText || el.textContent || el.value || '').trim();
	let acted = false;
	if (%t && enabled) {
		el.click();
		acted = true;
	}
	return { found: true, acted: acted, enabled: enabled, label: label };
})()`, resolverJS, candidatesJSON, click)
}

// fetchScript performs an in-page fetch and resolves to the response
// body text. Runs with credentials so the session's cookies apply.
func fetchScript(url, method string, body any) (string, error) {
	urlJSON := mustJSON(url)
	methodJSON := mustJSON(method)

	bodyJS := "undefined"
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("unencodable request body: %w", err)
		}
		bodyJS = mustJSON(string(raw))
	}

	return fmt.Sprintf(`(async () => {
	const res = await fetch(%s, {
		method: %s,
		credentials: 'include',
		headers: { 'Content-Type': 'application/json', 'Accept': 'application/json' },
		body: %s,
	});
	return await res.text();
})()`, urlJSON, methodJSON, bodyJS), nil
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(raw)
}
