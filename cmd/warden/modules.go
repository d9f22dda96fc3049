package main

// Modules compiled into the warden binary. Each registers itself in init();
// only modules with a config entry are loaded at runtime.
import (
	_ "github.com/flemzord/warden/internal/cron"
	_ "github.com/flemzord/warden/internal/gateway"
	_ "github.com/flemzord/warden/internal/policy"
	_ "github.com/flemzord/warden/internal/telemetry"
	_ "github.com/flemzord/warden/internal/watchdog"

	_ "github.com/flemzord/warden/modules/approver/console"
	_ "github.com/flemzord/warden/modules/approver/phone"
	_ "github.com/flemzord/warden/modules/approver/telegram"
	_ "github.com/flemzord/warden/modules/audit/jsonl"
	_ "github.com/flemzord/warden/modules/audit/sqlite"
	_ "github.com/flemzord/warden/modules/reviewer/anthropic"
	_ "github.com/flemzord/warden/modules/runner/mcp"
	_ "github.com/flemzord/warden/modules/shield/heuristic"
	_ "github.com/flemzord/warden/modules/shield/http"
)
