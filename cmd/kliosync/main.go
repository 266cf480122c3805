package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"kliosync/backend"
	"kliosync/uiapi"
)

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required env: %s", key)
	}
	return v
}

func configFromEnv() backend.StorageConfig {
	provider := strings.ToLower(os.Getenv("KLIO_PROVIDER"))
	params := map[string]string{}
	switch provider {
	case "s3":
		params["endpoint"] = os.Getenv("KLIO_S3_ENDPOINT")
		params["region"] = os.Getenv("KLIO_S3_REGION")
		params["bucket"] = mustEnv("KLIO_S3_BUCKET")
		params["access_key"] = mustEnv("KLIO_S3_ACCESS_KEY")
		params["secret_key"] = mustEnv("KLIO_S3_SECRET_KEY")
		params["path_prefix"] = os.Getenv("KLIO_S3_PATH_PREFIX")
	case "webdav":
		params["url"] = mustEnv("KLIO_WEBDAV_URL")
		params["username"] = os.Getenv("KLIO_WEBDAV_USERNAME")
		params["password"] = os.Getenv("KLIO_WEBDAV_PASSWORD")
		params["path_prefix"] = os.Getenv("KLIO_WEBDAV_PATH_PREFIX")
	case "gdrive":
		params["client_id"] = mustEnv("KLIO_GDRIVE_CLIENT_ID")
		params["client_secret"] = mustEnv("KLIO_GDRIVE_CLIENT_SECRET")
		params["access_token"] = os.Getenv("KLIO_GDRIVE_ACCESS_TOKEN")
		params["refresh_token"] = os.Getenv("KLIO_GDRIVE_REFRESH_TOKEN")
		params["folder_id"] = os.Getenv("KLIO_GDRIVE_FOLDER_ID")
	default:
		log.Fatalf("missing or unknown KLIO_PROVIDER: %q (want s3 | webdav | gdrive)", provider)
	}
	return backend.StorageConfig{Provider: provider, Params: params}
}

func checkConnection(ctx context.Context, api *uiapi.API, cfg backend.StorageConfig) error {
	ok, err := api.UserStorageTestConnection(cfg)
	if err != nil {
		return fmt.Errorf("test connection failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("test connection returned false")
	}
	log.Println("✓ storage: connection ok")
	return checkSelfTestRoundTrip(ctx, cfg)
}

// checkSelfTestRoundTrip writes, reads, and deletes a throwaway object
// under a uuid-suffixed key so repeated -mode=check runs never collide.
func checkSelfTestRoundTrip(ctx context.Context, cfg backend.StorageConfig) error {
	p, err := backend.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	key := fmt.Sprintf("selftest/%s.txt", uuid.NewString())
	if err := p.WriteBytes(ctx, key, []byte("kliosync selftest ping")); err != nil {
		return fmt.Errorf("selftest write failed: %w", err)
	}
	if _, err := p.ReadBytes(ctx, key); err != nil {
		return fmt.Errorf("selftest read failed: %w", err)
	}
	if err := p.Delete(ctx, key); err != nil {
		return fmt.Errorf("selftest delete failed: %w", err)
	}
	log.Println("✓ storage: write/read/delete ok")
	return nil
}

func main() {
	_ = godotenv.Overload(".env", "../.env", "../../.env")

	var (
		mode        = flag.String("mode", "check", "check | sync | auto | status | list")
		libraryPath = flag.String("library", "", "local library root (sync/auto)")
		interval    = flag.Uint64("interval", 300, "auto-sync interval in seconds (auto)")
		jsonOut     = flag.Bool("json", false, "emit JSON where applicable")
	)
	flag.Parse()

	ctx := context.Background()
	cfg := configFromEnv()

	engine := backend.NewEngine()
	emitter := uiapi.CallbackEmitter{Emit: func(name string, payload any) {
		b, _ := json.Marshal(payload)
		log.Printf("[%s] %s", name, string(b))
	}}
	api := uiapi.New(engine, emitter)
	api.SetContext(ctx)

	switch *mode {
	case "check":
		if err := checkConnection(ctx, api, cfg); err != nil {
			log.Fatal(err)
		}
		log.Println("All checks passed")

	case "sync":
		if *libraryPath == "" {
			log.Fatal("sync requires -library")
		}
		api.UserStorageConfigure(cfg, *libraryPath)
		report, err := api.UserStorageSyncNow()
		if err != nil {
			log.Fatalf("sync failed: %v", err)
		}
		if *jsonOut {
			_ = json.NewEncoder(os.Stdout).Encode(report)
			return
		}
		log.Printf("uploaded=%d downloaded=%d conflicts=%d errors=%d",
			len(report.Uploaded), len(report.Downloaded), len(report.Conflicts), len(report.Errors))

	case "auto":
		if *libraryPath == "" {
			log.Fatal("auto requires -library")
		}
		api.UserStorageConfigure(cfg, *libraryPath)
		api.UserStorageSetAutoSyncInterval(*interval)
		api.UserStorageStartAutoSync()
		log.Printf("auto-sync started, interval=%ds; ctrl-c to stop", *interval)
		select {}

	case "status":
		status := api.UserStorageGetStatus()
		_ = json.NewEncoder(os.Stdout).Encode(status)

	case "list":
		api.UserStorageConfigure(cfg, *libraryPath)
		files, err := api.UserStorageListRemote()
		if err != nil {
			log.Fatalf("list remote failed: %v", err)
		}
		if *jsonOut {
			_ = json.NewEncoder(os.Stdout).Encode(files)
			return
		}
		for _, f := range files {
			log.Printf("%s\t%d\t%s", f.Key, f.Size, f.LastModified)
		}

	default:
		fmt.Printf("usage: -mode=check|sync|auto|status|list\n")
	}
}
