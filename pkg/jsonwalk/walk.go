// Package jsonwalk implements a typed visitor over generic JSON values.
// The crawler feeds it intercepted API responses and collects content IDs
// and entity-shaped objects through it, instead of untyped recursive
// walking at the call sites.
package jsonwalk

import (
	"encoding/json"
	"sort"
	"strings"
)

// Visitor receives typed callbacks while a JSON tree is walked. Any
// callback may be nil.
type Visitor struct {
	// OnID is called for every string value under an "id" or "_id" key.
	OnID func(id string)
	// OnObject is called for every JSON object before its children are
	// visited. Mutations the callback makes to the node are visible to
	// the descent that follows.
	OnObject func(node map[string]interface{})
}

// idKeys are the key shapes treated as content identifiers.
var idKeys = map[string]bool{
	"id":  true,
	"_id": true,
}

// Walk traverses a decoded JSON value (the result of json.Unmarshal into
// interface{}) depth-first, invoking the visitor's callbacks. Object keys
// are visited in sorted order so the same document always produces the
// same callback sequence.
func Walk(value interface{}, v Visitor) {
	switch node := value.(type) {
	case map[string]interface{}:
		if v.OnObject != nil {
			v.OnObject(node)
		}
		keys := make([]string, 0, len(node))
		for key := range node {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if s, ok := node[key].(string); ok {
				if idKeys[strings.ToLower(key)] && s != "" && v.OnID != nil {
					v.OnID(s)
				}
				continue
			}
			Walk(node[key], v)
		}
	case []interface{}:
		for _, child := range node {
			Walk(child, v)
		}
	}
}

// CollectIDs decodes raw JSON and returns every id/_id string value found
// anywhere in the tree. Malformed JSON yields an empty slice; intercepted
// response bodies are best-effort input.
func CollectIDs(raw []byte) []string {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}

	var ids []string
	seen := make(map[string]bool)
	Walk(value, Visitor{
		OnID: func(id string) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		},
	})
	return ids
}
