package model

// Action is the closed set of step actions the engine recognizes.
type Action string

const (
	ActionIsolateHost          Action = "isolate_host"
	ActionRestoreConnectivity  Action = "restore_connectivity"
	ActionBlockIP              Action = "block_ip"
	ActionUnblockIP            Action = "unblock_ip"
	ActionBlockDomain          Action = "block_domain"
	ActionUnblockDomain        Action = "unblock_domain"
	ActionCollectLogs          Action = "collect_logs"
	ActionQuerySIEM            Action = "query_siem"
	ActionCollectNetworkTraffic Action = "collect_network_traffic"
	ActionSnapshotMemory       Action = "snapshot_memory"
	ActionCollectFileMetadata  Action = "collect_file_metadata"
	ActionEnrichIOC            Action = "enrich_ioc"
	ActionCheckReputation      Action = "check_reputation"
	ActionQueryThreatFeed      Action = "query_threat_feed"
	ActionCreateTicket         Action = "create_ticket"
	ActionUpdateTicket         Action = "update_ticket"
	ActionNotifyAnalyst        Action = "notify_analyst"
	ActionNotifyOncall         Action = "notify_oncall"
	ActionSendEmail            Action = "send_email"
	ActionDisableAccount       Action = "disable_account"
	ActionEnableAccount        Action = "enable_account"
	ActionResetPassword        Action = "reset_password"
	ActionRevokeSession        Action = "revoke_session"
	ActionQuarantineFile       Action = "quarantine_file"
	ActionRestoreFile          Action = "restore_file"
	ActionDeleteFile           Action = "delete_file"
	ActionCalculateHash        Action = "calculate_hash"
	ActionKillProcess          Action = "kill_process"
	ActionStartEDRScan         Action = "start_edr_scan"
	ActionRetrieveEDRData      Action = "retrieve_edr_data"
	ActionExecuteScript        Action = "execute_script"
	ActionHTTPRequest          Action = "http_request"
	ActionWait                 Action = "wait"
)

// validActions is the closed set, used by the playbook validator.
var validActions = map[Action]bool{
	ActionIsolateHost: true, ActionRestoreConnectivity: true,
	ActionBlockIP: true, ActionUnblockIP: true,
	ActionBlockDomain: true, ActionUnblockDomain: true,
	ActionCollectLogs: true, ActionQuerySIEM: true,
	ActionCollectNetworkTraffic: true, ActionSnapshotMemory: true,
	ActionCollectFileMetadata: true, ActionEnrichIOC: true,
	ActionCheckReputation: true, ActionQueryThreatFeed: true,
	ActionCreateTicket: true, ActionUpdateTicket: true,
	ActionNotifyAnalyst: true, ActionNotifyOncall: true, ActionSendEmail: true,
	ActionDisableAccount: true, ActionEnableAccount: true,
	ActionResetPassword: true, ActionRevokeSession: true,
	ActionQuarantineFile: true, ActionRestoreFile: true, ActionDeleteFile: true,
	ActionCalculateHash: true, ActionKillProcess: true,
	ActionStartEDRScan: true, ActionRetrieveEDRData: true,
	ActionExecuteScript: true, ActionHTTPRequest: true, ActionWait: true,
}

// IsValidAction reports whether a is in the closed vocabulary.
func IsValidAction(a Action) bool { return validActions[a] }

// writeActions is the fixed set of mutating actions; every other known
// action is read-only. Unknown
// actions are NOT in this set but are still classified as write by
// IsWriteAction's fail-safe default.
var writeActions = map[Action]bool{
	ActionIsolateHost: true, ActionRestoreConnectivity: true,
	ActionBlockIP: true, ActionUnblockIP: true,
	ActionBlockDomain: true, ActionUnblockDomain: true,
	ActionDisableAccount: true, ActionEnableAccount: true,
	ActionResetPassword: true, ActionRevokeSession: true,
	ActionQuarantineFile: true, ActionRestoreFile: true, ActionDeleteFile: true,
	ActionKillProcess: true, ActionExecuteScript: true,
}

var readActions = map[Action]bool{
	ActionCollectLogs: true, ActionQuerySIEM: true,
	ActionCollectNetworkTraffic: true, ActionSnapshotMemory: true,
	ActionCollectFileMetadata: true, ActionEnrichIOC: true,
	ActionCheckReputation: true, ActionQueryThreatFeed: true,
	ActionCreateTicket: true, ActionUpdateTicket: true,
	ActionNotifyAnalyst: true, ActionNotifyOncall: true, ActionSendEmail: true,
	ActionCalculateHash: true, ActionHTTPRequest: true, ActionWait: true,
	ActionStartEDRScan: true, ActionRetrieveEDRData: true,
}

// IsWriteAction classifies a as state-changing. Unknown actions
// default to write (fail-safe).
func IsWriteAction(a Action) bool {
	if readActions[a] {
		return false
	}
	if writeActions[a] {
		return true
	}
	return true
}
