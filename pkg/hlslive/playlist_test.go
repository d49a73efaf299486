package hlslive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCountSegments(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content *string
		want    int
	}{
		{"missing", nil, 0},
		{"empty", new(string), 0},
		{"three segments", func() *string { s := playlistWithSegments(3); return &s }(), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			playlist := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "-")+".m3u8")
			if tt.content != nil {
				if err := os.WriteFile(playlist, []byte(*tt.content), 0644); err != nil {
					t.Fatal(err)
				}
			}

			got, err := CountSegments(playlist)
			if err != nil {
				t.Fatalf("CountSegments() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CountSegments() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRenderLivePlaylist(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		segmentLength int
		contains      string
	}{
		{
			name:          "target duration below segment length",
			content:       "#EXTM3U\n#EXT-X-TARGETDURATION:5\n#EXTINF:5.9,\nhls/a/a0.ts\n",
			segmentLength: 6,
			contains:      "#EXT-X-TARGETDURATION:6\n",
		},
		{
			name:          "target duration above segment length",
			content:       "#EXTM3U\n#EXT-X-TARGETDURATION:8\n#EXTINF:7.9,\nhls/a/a0.ts\n",
			segmentLength: 6,
			contains:      "#EXT-X-TARGETDURATION:8\n",
		},
		{
			name:          "placeholder",
			content:       "",
			segmentLength: 3,
			contains:      "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			playlist := filepath.Join(t.TempDir(), "output.m3u8")
			if err := os.WriteFile(playlist, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			got, err := RenderLivePlaylist(playlist, tt.segmentLength)
			if err != nil {
				t.Fatalf("RenderLivePlaylist() error = %v", err)
			}
			if !strings.Contains(got, tt.contains) {
				t.Errorf("RenderLivePlaylist() = %q, want to contain %q", got, tt.contains)
			}
		})
	}

	t.Run("missing", func(t *testing.T) {
		if _, err := RenderLivePlaylist(filepath.Join(t.TempDir(), "missing.m3u8"), 6); !os.IsNotExist(err) {
			t.Errorf("RenderLivePlaylist() error = %v, want not exist", err)
		}
	})
}
