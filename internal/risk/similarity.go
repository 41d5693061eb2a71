package risk

// SimilarityRatio computes a Ratcliff/Obershelp similarity between two
// fingerprint strings, normalized to [0, 1]. Two empty strings are
// considered identical. The measure is 2*M/T where M is the total length
// of matched blocks (longest common block, then recursively to either
// side) and T is the combined length of both inputs.
func SimilarityRatio(a, b string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchedChars(a, b)) / float64(total)
}

func matchedChars(a, b string) int {
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchedChars(a[:ai], b[:bi]) +
		matchedChars(a[ai+size:], b[bi+size:])
}

// longestMatch finds the longest common substring, preferring the
// earliest occurrence in a and then in b on ties.
func longestMatch(a, b string) (ai, bi, size int) {
	b2j := make(map[byte][]int, len(b))
	for j := 0; j < len(b); j++ {
		b2j[b[j]] = append(b2j[b[j]], j)
	}

	j2len := make(map[int]int)
	for i := 0; i < len(a); i++ {
		newj2len := make(map[int]int)
		for _, j := range b2j[a[i]] {
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > size {
				ai, bi, size = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}
	return ai, bi, size
}
