package signature

// MinLiteralLength is the shortest byte run RequiredLiterals reports.
// Single bytes match nearly everywhere and make poor prefilter keywords.
const MinLiteralLength = 2

// RequiredLiterals returns byte runs that must appear somewhere in memory for
// seq to match. Runs inside OneOf alternatives are optional and are left out;
// runs inside Follow blocks are required but may sit anywhere in the region.
func RequiredLiterals(seq Sequence) [][]byte {
	var out [][]byte
	collectLiterals(seq, &out)
	return out
}

func collectLiterals(seq Sequence, out *[][]byte) {
	for _, c := range seq {
		switch v := c.(type) {
		case ByteSequence:
			if len(v.Bytes) >= MinLiteralLength {
				*out = append(*out, append([]byte(nil), v.Bytes...))
			}
		case Follow:
			collectLiterals(v.Commands, out)
		}
	}
}
