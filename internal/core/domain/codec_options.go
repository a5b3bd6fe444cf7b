package domain

// ProducerCodecOptions are per-codec hints applied when a stream starts
// being sent. All fields are optional.
type ProducerCodecOptions struct {
	OpusStereo              *bool  `json:"opusStereo,omitempty"`
	OpusFec                 *bool  `json:"opusFec,omitempty"`
	OpusDtx                 *bool  `json:"opusDtx,omitempty"`
	OpusMaxPlaybackRate     uint32 `json:"opusMaxPlaybackRate,omitempty"`
	OpusMaxAverageBitrate   uint32 `json:"opusMaxAverageBitrate,omitempty"`
	OpusPtime               uint32 `json:"opusPtime,omitempty"`
	VideoGoogleStartBitrate uint32 `json:"videoGoogleStartBitrate,omitempty"`
	VideoGoogleMaxBitrate   uint32 `json:"videoGoogleMaxBitrate,omitempty"`
	VideoGoogleMinBitrate   uint32 `json:"videoGoogleMinBitrate,omitempty"`
}
