package core

// HasChanged reports whether current differs meaningfully from baseline.
// A nil baseline (creation mode) always counts as changed. The slug field is compared
// on its own before the remaining fields.
func HasChanged(codec Codec, baseline, current Value) bool {
	if baseline == nil {
		return true
	}
	slug := codec.SlugField()
	if slug != "" && !codec.FieldEqual(slug, baseline[slug], current[slug]) {
		return true
	}
	for _, field := range codec.Fields() {
		if field == slug {
			continue
		}
		if !codec.FieldEqual(field, baseline[field], current[field]) {
			return true
		}
	}
	return false
}

// ValuesEqual compares two whole values field by field.
func ValuesEqual(codec Codec, a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	for _, field := range codec.Fields() {
		if !codec.FieldEqual(field, a[field], b[field]) {
			return false
		}
	}
	return true
}

// ChangedFields lists the fields whose values differ, in declaration order.
func ChangedFields(codec Codec, a, b Value) []string {
	var out []string
	for _, field := range codec.Fields() {
		if !codec.FieldEqual(field, a[field], b[field]) {
			out = append(out, field)
		}
	}
	return out
}
