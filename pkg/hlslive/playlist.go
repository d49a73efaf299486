package hlslive

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	extInf            = "#EXTINF:"
	extTargetDuration = "#EXT-X-TARGETDURATION:"
)

// CountSegments returns number of segments listed in the manifest.
// A missing manifest has zero segments.
func CountSegments(playlist string) (int, error) {
	data, err := os.ReadFile(playlist)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if strings.HasPrefix(strings.TrimSpace(scanner.Text()), extInf) {
			count++
		}
	}

	return count, scanner.Err()
}

// SegmentsReady reports whether the manifest lists at least minSegments segments.
func SegmentsReady(playlist string, minSegments int) bool {
	count, err := CountSegments(playlist)
	return err == nil && count >= minSegments
}

// RenderLivePlaylist returns manifest text served to clients. The segmenter
// reports a target duration rounded from real segment lengths, which may
// be lower than the configured segment length.
func RenderLivePlaylist(playlist string, segmentLength int) (string, error) {
	data, err := os.ReadFile(playlist)
	if err != nil {
		return "", err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Sprintf("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:0\n", segmentLength), nil
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if !strings.HasPrefix(trimmed, extTargetDuration) {
			continue
		}

		value, err := strconv.Atoi(strings.TrimPrefix(trimmed, extTargetDuration))
		if err != nil || value < segmentLength {
			lines[i] = extTargetDuration + strconv.Itoa(segmentLength)
		}
	}

	return strings.Join(lines, "\n"), nil
}
