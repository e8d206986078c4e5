package dispatch

// Failure kinds, used as the "kind" log attribute and metric label.
const (
	KindPermissionUnavailable = "permission_unavailable"
	KindLookupFailed          = "lookup_failed"
	KindPlaybackFailed        = "playback_failed"
	KindHapticUnavailable     = "haptic_unavailable"
	KindNativeScheduleFailed  = "native_schedule_failed"
	KindBrowserUnavailable    = "browser_notification_unavailable"
)
