package agent

// ExtractOutputText finds the answer text in an agent payload whose shape
// varies by backend. It tries, in order:
//
//  1. the root itself when it is a string;
//  2. each element of a root array, recursively, first hit wins;
//  3. the first string "output_text" found depth-first anywhere;
//  4. root.output[0] -> nested "content" array -> first item with a string "text".
//
// Empty strings never count as a hit. It reports false when nothing matched.
func ExtractOutputText(root Value) (string, bool) {
	if s, ok := root.Str(); ok {
		return s, s != ""
	}

	if root.Kind() == KindArray {
		for _, item := range root.Items() {
			if s, ok := ExtractOutputText(item); ok {
				return s, true
			}
		}
		return "", false
	}

	if s, ok := findString(root, "output_text"); ok {
		return s, true
	}

	output, ok := root.Get("output")
	if !ok || len(output.Items()) == 0 {
		return "", false
	}
	content, ok := findKind(output.Items()[0], "content", KindArray)
	if !ok {
		return "", false
	}
	for _, item := range content.Items() {
		if s, ok := findString(item, "text"); ok {
			return s, true
		}
	}
	return "", false
}

// findString searches v depth-first for a member named key holding a
// non-empty string. An object's own members are checked before its children.
func findString(v Value, key string) (string, bool) {
	found, ok := find(v, func(m Member) bool {
		s, isStr := m.Value.Str()
		return m.Key == key && isStr && s != ""
	})
	if !ok {
		return "", false
	}
	s, _ := found.Str()
	return s, true
}

// findKind searches v depth-first for a member named key of the given kind.
func findKind(v Value, key string, kind Kind) (Value, bool) {
	return find(v, func(m Member) bool {
		return m.Key == key && m.Value.Kind() == kind
	})
}

func find(v Value, match func(Member) bool) (Value, bool) {
	switch v.Kind() {
	case KindObject:
		for _, m := range v.Members() {
			if match(m) {
				return m.Value, true
			}
		}
		for _, m := range v.Members() {
			if found, ok := find(m.Value, match); ok {
				return found, true
			}
		}
	case KindArray:
		for _, item := range v.Items() {
			if found, ok := find(item, match); ok {
				return found, true
			}
		}
	}
	return Value{}, false
}
