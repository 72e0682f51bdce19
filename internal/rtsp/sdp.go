package rtsp

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// Track is one media stream announced by DESCRIBE. Control is the a=control
// value used to address it in SETUP.
type Track struct {
	Control string
	Media   string
}

// parseTracks returns the per media control identifiers. Descriptions that
// pion/sdp rejects are scanned line by line for a=control attributes.
func parseTracks(body []byte) ([]Track, *sdp.SessionDescription) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return scanControls(body), nil
	}

	var tracks []Track
	for _, md := range desc.MediaDescriptions {
		control, ok := md.Attribute("control")
		if !ok || control == "" || control == "*" {
			continue
		}
		tracks = append(tracks, Track{Control: control, Media: md.MediaName.Media})
	}
	return tracks, desc
}

func scanControls(body []byte) []Track {
	var tracks []Track
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		control, ok := strings.CutPrefix(line, "a=control:")
		if !ok || control == "" || control == "*" {
			continue
		}
		tracks = append(tracks, Track{Control: control})
	}
	return tracks
}

// trackURL resolves a control identifier against the base URI.
func trackURL(base, control string) string {
	switch {
	case control == "":
		return base
	case strings.HasPrefix(control, "rtsp://"), strings.HasPrefix(control, "rtsps://"):
		return control
	default:
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(control, "/")
	}
}
