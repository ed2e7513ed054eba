package banner

import (
	"fmt"

	"presencedb/pkg/config"
)

const banner = `
██████╗ ██████╗ ███████╗███████╗███████╗███╗   ██╗ ██████╗███████╗    ██████╗ ██████╗
██╔══██╗██╔══██╗██╔════╝██╔════╝██╔════╝████╗  ██║██╔════╝██╔════╝    ██╔══██╗██╔══██╗
██████╔╝██████╔╝█████╗  ███████╗█████╗  ██╔██╗ ██║██║     █████╗      ██║  ██║██████╔╝
██╔═══╝ ██╔══██╗██╔══╝  ╚════██║██╔══╝  ██║╚██╗██║██║     ██╔══╝      ██║  ██║██╔══██╗
██║     ██║  ██║███████╗███████║███████╗██║ ╚████║╚██████╗███████╗    ██████╔╝██████╔╝
╚═╝     ╚═╝  ╚═╝╚══════╝╚══════╝╚══════╝╚═╝  ╚═══╝ ╚═════╝╚══════╝    ╚═════╝ ╚═════╝
`

// Print writes the startup banner with the effective runtime info.
func Print(cfg *config.Config, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", cfg.Addr())
	fmt.Printf("DB Path:   %s\n", cfg.Server.DBPath)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config sources: %s\n", source)
	}
	fmt.Printf("Tracking:  enabled=%v see_last=%v include_muted=%v universal=%v\n",
		cfg.Presence.Enabled, cfg.Presence.SeeLast, cfg.Presence.IncludeMuted, cfg.Presence.UniversalTracker)
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/conversations/{id}/messages - Finalize a message (stamp presence)")
	fmt.Println("POST /v1/conversations/{id}/turn     - Reconcile visibility for a turn")
	fmt.Println("GET  /v1/conversations/{id}/messages?view=tracker - Presence view")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/conversations/c1/turn' -d '{\"participant\":\"alice\"}'\n", cfg.Addr())
	fmt.Printf("curl 'http://localhost%s/v1/conversations/c1/messages?view=tracker'\n", cfg.Addr())
}
