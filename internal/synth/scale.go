package synth

import "math"

// Scale names a pentatonic scale used to quantize pitched events.
type Scale string

const (
	ScaleJapaneseYo        Scale = "japanese-yo"
	ScaleChineseGong       Scale = "chinese-gong"
	ScaleCeltic            Scale = "celtic"
	ScaleIndonesianSlendro Scale = "indonesian-slendro"
	ScaleScottishHighland  Scale = "scottish-highland"
	ScaleMongolianThroat   Scale = "mongolian-throat"
	ScaleEgyptianSacred    Scale = "egyptian-sacred"
	ScaleNativeAmerican    Scale = "native-american"
	ScaleNordicAurora      Scale = "nordic-aurora"
	ScaleChromatic         Scale = "chromatic" // quantization disabled
)

// Five degrees per scale, as semitone offsets from the root.
var scaleDegrees = map[Scale][5]int{
	ScaleJapaneseYo:        {0, 2, 5, 7, 9},
	ScaleChineseGong:       {0, 2, 4, 7, 9},
	ScaleCeltic:            {0, 2, 5, 7, 10},
	ScaleIndonesianSlendro: {0, 2, 3, 7, 9},
	ScaleScottishHighland:  {0, 2, 5, 7, 9},
	ScaleMongolianThroat:   {0, 3, 5, 7, 10},
	ScaleEgyptianSacred:    {0, 2, 4, 7, 9},
	ScaleNativeAmerican:    {0, 3, 5, 7, 10},
	ScaleNordicAurora:      {0, 2, 5, 7, 9},
}

// ValidScale reports whether s names a known scale.
func ValidScale(s Scale) bool {
	if s == ScaleChromatic {
		return true
	}
	_, ok := scaleDegrees[s]
	return ok
}

// QuantizeNote snaps a MIDI note onto the nearest degree of the scale,
// preferring the lower degree on ties.
func QuantizeNote(note int, scale Scale) int {
	degrees, ok := scaleDegrees[scale]
	if !ok {
		return note
	}
	octave := note / 12
	best, bestDist := note, 128
	for oct := octave - 1; oct <= octave+1; oct++ {
		for _, d := range degrees[:] {
			candidate := oct*12 + d
			dist := candidate - note
			if dist < 0 {
				dist = -dist
			}
			if dist < bestDist || (dist == bestDist && candidate < best) {
				best, bestDist = candidate, dist
			}
		}
	}
	if best < 0 {
		best = 0
	}
	if best > 127 {
		best = 127
	}
	return best
}

// noteFreq converts a MIDI note number to Hz (A4 = 440).
func noteFreq(note int) float64 {
	return 440.0 * math.Pow(2, float64(note-69)/12.0)
}
