package bot

import (
	"errors"

	"aegis-community/internal/antinuke"
)

var messages = map[string]string{
	"author_security": "Aegis Security",
	"footer_brand":    "Aegis anti-nuke",

	"title_antinuke":  "Anti-nuke",
	"title_limits":    "Anti-nuke limits",
	"title_protect":   "Protected resources",
	"title_whitelist": "Anti-nuke whitelist",
	"title_stats":     "Anti-nuke stats",
	"title_snapshot":  "Server snapshot",
	"title_audit":     "Security event",
	"title_error":     "Action failed",

	"antinuke_status":   "Current anti-nuke configuration.",
	"antinuke_enabled":  "Anti-nuke is now enabled.",
	"antinuke_disabled": "Anti-nuke is now disabled.",
	"antinuke_logs":     "Security log channel updated.",
	"lockdown_lifted":   "Lockdown lifted. Channels are back to their previous settings.",
	"lockdown_none":     "This server is not in lockdown.",
	"limits_current":    "Per-action limits. An actor reaching the limit inside the window is punished.",
	"limits_updated":    "Limit updated.",
	"protect_added":     "Resource is now protected. Deleting it punishes at the highest level.",
	"protect_removed":   "Resource is no longer protected.",
	"protect_missing":   "That resource was not protected.",
	"protect_list":      "Protected resources.",
	"whitelist_added":   "Actor is exempt from anti-nuke checks.",
	"whitelist_removed": "Exemption removed.",
	"whitelist_missing": "That actor was not exempt.",
	"whitelist_list":    "Exempt actors.",
	"stats_desc":        "Window counts and punishment history for the actor, and security events in the last 24 hours.",
	"snapshot_taken":    "Snapshot captured. Deleted resources can be restored from it.",
	"warn_title":        "Anti-nuke warning",
	"warn_reason":       "You performed too many destructive actions in a short time.",

	"audit_desc": "The anti-nuke engine recorded an event.",
	"event_antinuke_trip":           "Nuke attempt stopped",
	"event_antinuke_protected":      "Protected resource deleted",
	"event_antinuke_contained":      "Action blocked during containment",
	"event_antinuke_punish_failed":  "Punishment failed",
	"event_antinuke_restored":       "Resource restored (best effort)",
	"event_antinuke_restore_failed": "Restoration unavailable",
	"event_antinuke_revert_failed":  "Revert failed",
	"event_antinuke_config":         "Configuration changed",
	"event_antinuke_lockdown":       "Server locked down",
	"event_antinuke_lockdown_ended": "Lockdown lifted",
	"event_antinuke_lockdown_fail":  "Lockdown incomplete",

	"field_enabled":     "Enabled",
	"field_log_channel": "Log channel",
	"field_protected":   "Protected",
	"field_exempt":      "Exempt",
	"field_resource":    "Resource",
	"field_user":        "User",
	"field_expires":     "Expires",
	"field_level":       "Level",
	"field_event":       "Event",
	"field_details":     "Details",
	"field_count":       "Count",
	"field_total":       "Total",
	"field_info":        "INFO",
	"field_warn":        "WARN",
	"field_crit":        "CRIT",
	"field_top_users":   "Top actors",
	"field_windows":     "Current windows",
	"field_resources":   "Resources",
	"field_server":      "Server",
	"field_reason":      "Reason",
	"field_lockdown":    "Lockdown",
	"field_lifetime":    "Lifetime punishments",
	"field_incidents":   "Recent incidents",

	"value_none":      "none",
	"value_not_set":   "not set",
	"value_permanent": "permanent",
	"value_system":    "system",

	"error_guild_only":          "This command only works inside a server.",
	"error_admin_only":          "You need the Administrator permission to use this command.",
	"error_unknown":             "Unknown option.",
	"error_missing_target":      "Choose a user, channel or role for this action.",
	"error_missing_key":         "Choose which action type to change.",
	"error_invalid_rule":        "Invalid rule configuration. The limit must be at least 1 and the window must be positive. Nothing was changed.",
	"error_punishment_failed":   "The punishment could not be applied. Check the bot's role position and permissions.",
	"error_restore_unavailable": "No snapshot holds this resource, so it could not be restored.",
	"error_config_missing":      "No configuration is stored for this server yet; defaults are in use.",
	"error_failed":              "Something went wrong. Nothing was changed.",
}

func t(key string) string {
	if value, ok := messages[key]; ok {
		return value
	}
	return key
}

// errorMessage picks the operator message for an error kind.
func errorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, antinuke.ErrInvalidRuleConfig):
		return t("error_invalid_rule")
	case errors.Is(err, antinuke.ErrExternalActionFailed):
		return t("error_punishment_failed")
	case errors.Is(err, antinuke.ErrRestorationUnavailable):
		return t("error_restore_unavailable")
	case errors.Is(err, antinuke.ErrConfigurationMissing):
		return t("error_config_missing")
	default:
		return t("error_failed")
	}
}
