package banner

import (
	"fmt"

	"pagestore/pkg/config"
)

const banner = `
██████╗  █████╗  ██████╗ ███████╗███████╗████████╗ ██████╗ ██████╗ ███████╗
██╔══██╗██╔══██╗██╔════╝ ██╔════╝██╔════╝╚══██╔══╝██╔═══██╗██╔══██╗██╔════╝
██████╔╝███████║██║  ███╗█████╗  ███████╗   ██║   ██║   ██║██████╔╝█████╗
██╔═══╝ ██╔══██║██║   ██║██╔══╝  ╚════██║   ██║   ██║   ██║██╔══██╗██╔══╝
██║     ██║  ██║╚██████╔╝███████╗███████║   ██║   ╚██████╔╝██║  ██║███████╗
╚═╝     ╚═╝  ╚═╝ ╚═════╝ ╚══════╝╚══════╝   ╚═╝    ╚═════╝ ╚═╝  ╚═╝╚══════╝
`

// Print writes the startup banner and a short production checklist built
// from the effective config.
func Print(eff config.Effective, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Storage.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("Cache DB: %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)
	if eff.Config != nil {
		fmt.Printf("Namespace: %s\n", eff.Config.Store.Namespace)
		fmt.Printf("Remote:    %s\n", eff.Config.Remote.BaseURL)
	}

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl 'http://<host>:<port>/v1/records/donators'")
	fmt.Println("curl 'http://<host>:<port>/v1/threads/forum/general/comments?page=1'")
	fmt.Println("\n== Production? =================================================")

	be, fe, ak := 0, 0, 0
	if eff.Config != nil {
		be = len(eff.Config.Security.APIKeys.Backend)
		fe = len(eff.Config.Security.APIKeys.Frontend)
		ak = len(eff.Config.Security.APIKeys.Admin)
	}
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	if fe > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", fe)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if ak > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", ak)
	} else {
		fmt.Println("- Admin API keys: MISSING (required for admin tooling)")
	}

	tlsOK := eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != ""
	if tlsOK {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	remoteTok := eff.Config != nil && eff.Config.Remote.Token != ""
	if remoteTok {
		fmt.Println("- Remote token: configured")
	} else {
		fmt.Println("- Remote token: MISSING (set PAGESTORE_REMOTE_TOKEN)")
	}

	trusted := 0
	if eff.Config != nil {
		trusted = len(eff.Config.Store.TrustedWriters)
	}
	if trusted > 0 {
		fmt.Printf("- Trusted writers: OK (%d)\n", trusted)
	} else {
		fmt.Println("- Trusted writers: none (all record creators accepted)")
	}

	if eff.Config != nil && eff.Config.Cache.SweepCron != "" {
		fmt.Printf("- Cache sweep: cron=%s\n", eff.Config.Cache.SweepCron)
	} else {
		fmt.Println("- Cache sweep: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
