package banner

import (
	"fmt"

	"chatsync/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// Print renders the startup banner with the effective runtime settings.
func Print(cfg *config.Config, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Control API: %s\n", cfg.Addr())
	fmt.Printf("DB Path:     %s\n", cfg.Server.DBPath)
	if version != "" {
		fmt.Printf("Version:     %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config:      %s\n", sources)
	}

	fmt.Println("\n== Sync =======================================================")
	if cfg.Remote.DSN != "" {
		fmt.Printf("- Remote: configured (user %s)\n", cfg.Remote.UserID)
		if cfg.Remote.FeedURL != "" {
			fmt.Println("- Realtime feed: configured")
		} else {
			fmt.Println("- Realtime feed: MISSING (online detection disabled)")
		}
	} else {
		fmt.Println("- Remote: not configured (offline-only)")
	}
	if cfg.Collab.SignalAddr != "" {
		fmt.Printf("- Collaboration relay: %s\n", cfg.Collab.SignalAddr)
	} else {
		fmt.Println("- Collaboration relay: not configured (sessions disabled)")
	}
	if cfg.Retention.Enabled {
		fmt.Printf("- Retention: enabled (%s, keep %s)\n", cfg.Retention.Cron, cfg.Retention.Period)
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET    /healthz           - liveness")
	fmt.Println("GET    /statusz           - sync + session status")
	fmt.Println("GET    /metrics           - prometheus metrics")
	fmt.Println("POST   /v1/session        - create session, returns share link")
	fmt.Println("POST   /v1/session/join   - join via share link")
	fmt.Println("GET    /v1/session        - active session")
	fmt.Println("DELETE /v1/session        - leave session")
}
