package dispatcher

import "strings"

// isWildcardSegment reports whether a path template segment is a parameter
// placeholder (":id") or a Handlebars placeholder ("{{id}}") rather than a
// literal segment.
func isWildcardSegment(segment string) bool {
	return strings.HasPrefix(segment, ":") ||
		(strings.HasPrefix(segment, "{{") && strings.HasSuffix(segment, "}}"))
}

func splitSegments(path string) []string {
	path = strings.SplitN(path, "?", 2)[0]
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// matchRoute finds the unique route template in routes whose segment count
// equals fullPath's and whose literal segments match exactly (wildcard
// segments match anything). Ambiguity (more than one match) is reported via
// the third return rather than resolved arbitrarily, matching §4.3's
// "InvalidArgument: ambiguous route".
func matchRoute(fullPath string, routes []string) (matched string, found bool, ambiguous bool) {
	segments := splitSegments(fullPath)

	for _, route := range routes {
		routeSegments := splitSegments(route)
		if len(routeSegments) != len(segments) {
			continue
		}

		ok := true
		for i, routeSeg := range routeSegments {
			if routeSeg != segments[i] && !isWildcardSegment(routeSeg) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		if found {
			return "", true, true
		}
		matched, found = route, true
	}

	return matched, found, false
}

// templateRoute substitutes the actual path segments from fullRequestPath
// into the wildcard positions of modelDefinitionPath, yielding a concrete
// path for the upstream call.
func templateRoute(modelDefinitionPath, fullRequestPath string) string {
	defSegments := splitSegments(modelDefinitionPath)
	reqSegments := splitSegments(fullRequestPath)

	var b strings.Builder
	if strings.HasPrefix(modelDefinitionPath, "/") {
		b.WriteByte('/')
	}
	for i, segment := range defSegments {
		if isWildcardSegment(segment) && i < len(reqSegments) {
			b.WriteString(reqSegments[i])
		} else {
			b.WriteString(segment)
		}
		if i != len(defSegments)-1 {
			b.WriteByte('/')
		}
	}
	return b.String()
}
