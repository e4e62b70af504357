package metainfo

// Tiers of tracker URLs.
type AnnounceList [][]string

// Drops empty URLs, URLs already seen in an earlier position, and tiers left empty.
func (al AnnounceList) Dedupe() (ret AnnounceList) {
	seen := make(map[string]struct{})
	for _, tier := range al {
		var out []string
		for _, url := range tier {
			if url == "" {
				continue
			}
			if _, ok := seen[url]; ok {
				continue
			}
			seen[url] = struct{}{}
			out = append(out, url)
		}
		if len(out) != 0 {
			ret = append(ret, out)
		}
	}
	return
}
