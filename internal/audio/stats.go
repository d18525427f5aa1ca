package audio

import "gonum.org/v1/gonum/stat"

// SamplesS16LE decodes raw little-endian signed 16-bit PCM into float64
// samples. A trailing odd byte is ignored.
func SamplesS16LE(raw []byte) []float64 {
	n := len(raw) / 2
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		samples[i] = float64(v)
	}
	return samples
}

// Variance returns the sample variance of the decoded signal. A live
// microphone channel shows broadband noise well above the quantisation
// floor; a dead channel sits near zero.
func Variance(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	return stat.Variance(samples, nil)
}
