package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// cardTagRe matches embedded card reference tags in native SQL, e.g.
// {{#123-orders-model}}. Group 1 is the card ID, group 2 the slug.
var cardTagRe = regexp.MustCompile(`\{\{\s*#(\d+)([-\w]*)\s*\}\}`)

// rewriteNativeSQL substitutes mapped card IDs into {{#id-slug}} tags,
// preserving each tag's slug text. Tags referencing cards outside the
// mapped set are left untouched with a recorded warning: the platform
// resolves the slug loosely, so an unresolved tag degrades rather than
// corrupts.
func (r *Rewriter) rewriteNativeSQL(sql, path string) string {
	return cardTagRe.ReplaceAllStringFunc(sql, func(tag string) string {
		sub := cardTagRe.FindStringSubmatch(tag)
		sourceID, err := strconv.Atoi(sub[1])
		if err != nil {
			return tag
		}
		targetID, lookupErr := r.ids.Card(sourceID)
		if lookupErr != nil {
			r.warnf("%s: card tag {{#%d%s}} references a card outside the mapped set; left unchanged", path, sourceID, sub[2])
			return tag
		}
		return fmt.Sprintf("{{#%d%s}}", targetID, sub[2])
	})
}

// rewriteTemplateTags remaps the template-tags map that accompanies native
// SQL: for each tag of type "card", the card-id, the tag's key, its name
// and its display-name are rewritten to the target card ID. Non-card tags
// and the tag's own UUID are preserved as-is.
func (r *Rewriter) rewriteTemplateTags(tags map[string]any, path string) map[string]any {
	out := make(map[string]any, len(tags))
	for key, raw := range tags {
		tag, ok := raw.(map[string]any)
		if !ok || tag["type"] != "card" {
			out[key] = raw
			continue
		}
		sourceID, ok := asInt(tag["card-id"])
		if !ok {
			out[key] = raw
			continue
		}
		targetID, err := r.ids.Card(sourceID)
		if err != nil {
			r.warnf("%s: template tag %q references unmapped card %d; left unchanged", path, key, sourceID)
			out[key] = raw
			continue
		}

		rewritten := make(map[string]any, len(tag))
		for k, v := range tag {
			rewritten[k] = v
		}
		rewritten["card-id"] = targetID
		if name, ok := tag["name"].(string); ok {
			rewritten["name"] = remapTagName(name, sourceID, targetID)
		}
		if display, ok := tag["display-name"].(string); ok {
			rewritten["display-name"] = remapTagName(display, sourceID, targetID)
		}
		out[remapTagName(key, sourceID, targetID)] = rewritten
	}
	return out
}

// remapTagName rewrites the numeric prefix of a card tag name, keeping the
// slug and any leading "#" intact. Handles both "50-my-model" and the newer
// "#50-my-model" key styles, as well as display names like "#50 My Model".
func remapTagName(name string, sourceID, targetID int) string {
	prefix := ""
	rest := name
	if strings.HasPrefix(rest, "#") {
		prefix = "#"
		rest = rest[1:]
	}
	src := strconv.Itoa(sourceID)
	if rest == src {
		return prefix + strconv.Itoa(targetID)
	}
	if strings.HasPrefix(rest, src) {
		switch rest[len(src)] {
		case '-', ' ':
			return prefix + strconv.Itoa(targetID) + rest[len(src):]
		}
	}
	return name
}

// nativeTagDependencies collects card IDs referenced by {{#id-slug}} tags
// in a native SQL string.
func nativeTagDependencies(sql string, into map[int]struct{}) {
	for _, sub := range cardTagRe.FindAllStringSubmatch(sql, -1) {
		if id, err := strconv.Atoi(sub[1]); err == nil {
			into[id] = struct{}{}
		}
	}
}

// templateTagDependencies collects card IDs from template tags of type
// "card".
func templateTagDependencies(tags map[string]any, into map[int]struct{}) {
	for _, raw := range tags {
		tag, ok := raw.(map[string]any)
		if !ok || tag["type"] != "card" {
			continue
		}
		if id, ok := asInt(tag["card-id"]); ok {
			into[id] = struct{}{}
		}
	}
}
