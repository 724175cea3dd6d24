package super

// Fletcher-32: 16-bit words, modulus 65521, accumulated in blocks of 360
// words before reducing. Checksum layout must match bit-for-bit across
// implementations reading the same image, so the arithmetic is written out
// rather than reached for a library.
const (
	fletcherModulus   = 65521
	fletcherBlockWords = 360
)

// Fletcher32 computes the Fletcher-32 checksum of data, read as
// little-endian 16-bit words. An odd-length input is treated as though
// padded with one zero byte.
func Fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	i := 0
	n := len(data)
	for i < n {
		// Consume up to fletcherBlockWords 16-bit words before reducing,
		// so sum1/sum2 never overflow a uint32 mid-block.
		count := fletcherBlockWords
		for count > 0 && i < n {
			var word uint32
			if i+1 < n {
				word = uint32(data[i]) | uint32(data[i+1])<<8
				i += 2
			} else {
				word = uint32(data[i])
				i++
			}
			sum1 += word
			sum2 += sum1
			count--
		}
		sum1 %= fletcherModulus
		sum2 %= fletcherModulus
	}
	return (sum2 << 16) | sum1
}
