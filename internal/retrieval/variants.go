package retrieval

import "strings"

// TopicVariants returns lowercase singular and naive-plural forms of a
// topic so a filter like "fraction" also matches data labeled "fractions",
// and vice versa.
func TopicVariants(topic string) []string {
	t := strings.ToLower(strings.TrimSpace(topic))
	if t == "" {
		return nil
	}

	variants := []string{t}
	if strings.HasSuffix(t, "s") {
		variants = append(variants, strings.TrimSuffix(t, "s"))
	} else {
		variants = append(variants, t+"s")
	}

	return variants
}
