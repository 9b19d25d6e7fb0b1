package provisioner

import "net/url"

// WatchURL returns the public page of a broadcast.
func WatchURL(broadcastID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(broadcastID)
}

// StudioURL returns the YouTube Studio control room of a broadcast.
func StudioURL(broadcastID string) string {
	return "https://studio.youtube.com/video/" + url.PathEscape(broadcastID) + "/livestreaming"
}
