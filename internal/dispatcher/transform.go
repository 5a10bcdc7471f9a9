package dispatcher

import "strings"

// removeNulls recursively strips null-valued object keys and descends into
// arrays, mutating value in place. Used after rendering a CMS/CMD script
// result so downstream consumers never see explicit nulls (§4.3 steps 3/10).
func removeNulls(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, child := range v {
			if child == nil {
				delete(v, k)
				continue
			}
			v[k] = removeNulls(child)
		}
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = removeNulls(item)
		}
		return v
	default:
		return value
	}
}

// parsePassthroughForwardQuery parses the "passthroughForward" query
// parameter's value, a "&"-then-"="-delimited list of extra query params to
// merge into the outgoing request (§4.3 step 4).
func parsePassthroughForwardQuery(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}

// parsePassthroughForwardHeader parses the
// "x-integrationos-passthrough-forward" header value, a ";"-then-"="-
// delimited list of extra headers to merge into the outgoing request
// (§4.3 step 4).
func parsePassthroughForwardHeader(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

// mergeStringMaps shallow-merges src into dst (src wins on key conflict),
// returning dst. A nil dst allocates a new map.
func mergeStringMaps(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = map[string]string{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// shallowMergeObjects shallow-merges src's top-level keys into dst (src
// wins), used for the script-returned body merge in §4.3 step 4. A nil dst
// returns src unchanged (script body replaces "None" per §4.3 step 4).
func shallowMergeObjects(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		return src
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
