package asset

import (
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParsePlaybackInfo decodes a Tidal-style playback info document, whose manifest is a base64-encoded BTS (JSON) or
// DASH (MPD XML) document, into a Descriptor.
func ParsePlaybackInfo(r io.Reader) (Descriptor, error) {
	var info struct {
		TrackID          json.Number `json:"trackId"`
		ManifestMimeType string      `json:"manifestMimeType"`
		Manifest         string      `json:"manifest"`
	}
	if err := json.NewDecoder(r).Decode(&info); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrMalformedPlayback, err)
	}
	raw, err := base64.StdEncoding.DecodeString(info.Manifest)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: manifest is not base64: %v", ErrMalformedPlayback, err)
	}
	desc, err := ParseManifest(info.ManifestMimeType, raw)
	if err != nil {
		return Descriptor{}, err
	}
	desc.ID = info.TrackID.String()
	return desc, nil
}

// ParseManifest decodes an already-unwrapped manifest of the given type.
func ParseManifest(manifestMimeType string, manifest []byte) (Descriptor, error) {
	switch manifestMimeType {
	case ManifestTidalBTS, "vnd.tidal.bts":
		return parseBTSManifest(manifest)
	case ManifestDASH, "dash+xml":
		return parseDASHManifest(manifest)
	default:
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownManifest, manifestMimeType)
	}
}

func parseBTSManifest(manifest []byte) (Descriptor, error) {
	var bts struct {
		MimeType       string   `json:"mimeType"`
		Codecs         string   `json:"codecs"`
		EncryptionType string   `json:"encryptionType"`
		URLs           []string `json:"urls"`
	}
	if err := json.Unmarshal(manifest, &bts); err != nil {
		return Descriptor{}, fmt.Errorf("%w: bts manifest: %v", ErrMalformedPlayback, err)
	}
	switch bts.EncryptionType {
	case "", "NONE":
	default:
		return Descriptor{}, fmt.Errorf("%w: %s", ErrEncryptedManifest, bts.EncryptionType)
	}
	if len(bts.URLs) == 0 {
		return Descriptor{}, ErrNoURLs
	}
	return Descriptor{
		ManifestMimeType: ManifestTidalBTS,
		Codec:            strings.ToLower(bts.Codecs),
		MimeType:         bts.MimeType,
		URLs:             bts.URLs,
	}, nil
}

type mpdSegmentTemplate struct {
	Initialization string `xml:"initialization,attr"`
	Media          string `xml:"media,attr"`
	StartNumber    string `xml:"startNumber,attr"`
	Timeline       []struct {
		T string `xml:"t,attr"`
		D int64  `xml:"d,attr"`
		R int    `xml:"r,attr"`
	} `xml:"SegmentTimeline>S"`
}

type mpdRepresentation struct {
	ID              string              `xml:"id,attr"`
	Codecs          string              `xml:"codecs,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	Bandwidth       int64               `xml:"bandwidth,attr"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
}

type mpdDocument struct {
	Periods []struct {
		AdaptationSets []struct {
			MimeType        string              `xml:"mimeType,attr"`
			ContentType     string              `xml:"contentType,attr"`
			SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
			Representations []mpdRepresentation `xml:"Representation"`
		} `xml:"AdaptationSet"`
	} `xml:"Period"`
}

// parseDASHManifest picks the highest-bandwidth audio representation and expands its segment template.
func parseDASHManifest(manifest []byte) (Descriptor, error) {
	var doc mpdDocument
	if err := xml.Unmarshal(manifest, &doc); err != nil {
		return Descriptor{}, fmt.Errorf("%w: dash manifest: %v", ErrMalformedPlayback, err)
	}
	var best *mpdRepresentation
	var bestTemplate *mpdSegmentTemplate
	var bestMimeType string
	for _, period := range doc.Periods {
		for _, set := range period.AdaptationSets {
			for i := range set.Representations {
				rep := &set.Representations[i]
				mimeType := rep.MimeType
				if mimeType == "" {
					mimeType = set.MimeType
				}
				if (set.ContentType != "" && set.ContentType != "audio") || (mimeType != "" && !strings.HasPrefix(mimeType, "audio/")) {
					continue
				}
				template := rep.SegmentTemplate
				if template == nil {
					template = set.SegmentTemplate
				}
				if template == nil {
					continue
				}
				if best == nil || rep.Bandwidth > best.Bandwidth {
					best, bestTemplate, bestMimeType = rep, template, mimeType
				}
			}
		}
	}
	if best == nil {
		return Descriptor{}, fmt.Errorf("%w: no audio representation with a segment template", ErrMalformedPlayback)
	}
	urls, err := expandSegmentTemplate(best.ID, bestTemplate)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		ManifestMimeType: ManifestDASH,
		Codec:            strings.ToLower(best.Codecs),
		MimeType:         bestMimeType,
		URLs:             urls,
	}, nil
}

func expandSegmentTemplate(representationID string, template *mpdSegmentTemplate) ([]string, error) {
	number := 1
	if template.StartNumber != "" {
		n, err := strconv.Atoi(template.StartNumber)
		if err != nil {
			return nil, fmt.Errorf("%w: startNumber %q", ErrMalformedPlayback, template.StartNumber)
		}
		number = n
	}
	var urls []string
	if template.Initialization != "" {
		urls = append(urls, substituteTemplate(template.Initialization, representationID, number, 0))
	}
	var t int64
	for _, s := range template.Timeline {
		if s.T != "" {
			parsed, err := strconv.ParseInt(s.T, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: segment time %q", ErrMalformedPlayback, s.T)
			}
			t = parsed
		}
		if s.R < 0 {
			return nil, fmt.Errorf("%w: open-ended segment repeat", ErrMalformedPlayback)
		}
		for i := 0; i <= s.R; i++ {
			urls = append(urls, substituteTemplate(template.Media, representationID, number, t))
			number++
			t += s.D
		}
	}
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	return urls, nil
}

func substituteTemplate(template string, representationID string, number int, t int64) string {
	return strings.NewReplacer(
		"$RepresentationID$", representationID,
		"$Number$", strconv.Itoa(number),
		"$Time$", strconv.FormatInt(t, 10),
		"$$", "$",
	).Replace(template)
}
