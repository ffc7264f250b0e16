package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/assetgrid-dev/assetgrid-core/pkg/schema"
	"github.com/assetgrid-dev/assetgrid-core/pkg/sdk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	addr := os.Getenv("ASSETGRID_ADDR")
	if addr == "" {
		addr = "http://localhost:8080"
	}
	token := os.Getenv("ASSETGRID_TOKEN")
	if token == "" {
		log.Fatal("ASSETGRID_TOKEN must be set")
	}
	client := sdk.New(addr, token)

	command := strings.ToLower(os.Args[1])
	args := os.Args[2:]

	switch command {
	case "fields":
		defs, err := client.ListFields()
		if err != nil {
			log.Fatal(err)
		}
		printJSON(defs)

	case "mkfield":
		if len(args) < 2 {
			log.Fatal("Usage: assetgrid mkfield <name> <kind> [constraints-json]")
		}
		def := schema.FieldDefinition{Name: args[0], Kind: schema.Kind(args[1])}
		if len(args) > 2 {
			if err := json.Unmarshal([]byte(args[2]), &def.Constraints); err != nil {
				log.Fatalf("Invalid constraints: %v", err)
			}
		}
		created, err := client.CreateField(def)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(created)

	case "rmfield":
		if len(args) < 1 {
			log.Fatal("Usage: assetgrid rmfield <fieldID>")
		}
		if err := client.DeleteField(args[0]); err != nil {
			log.Fatal(err)
		}
		fmt.Println("OK")

	case "assets":
		assets, err := client.ListAssets()
		if err != nil {
			log.Fatal(err)
		}
		printJSON(assets)

	case "asset":
		if len(args) < 1 {
			log.Fatal("Usage: assetgrid asset <assetID>")
		}
		a, err := client.GetAsset(args[0])
		if err != nil {
			log.Fatal(err)
		}
		printJSON(a)

	case "mkasset":
		metadata := map[string]any{}
		if len(args) > 0 {
			if err := json.Unmarshal([]byte(args[0]), &metadata); err != nil {
				log.Fatalf("Invalid metadata: %v", err)
			}
		}
		a, err := client.CreateAsset(metadata)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(a)

	case "rmasset":
		if len(args) < 1 {
			log.Fatal("Usage: assetgrid rmasset <assetID>")
		}
		if err := client.DeleteAsset(args[0]); err != nil {
			log.Fatal(err)
		}
		fmt.Println("OK")

	case "set":
		if len(args) < 3 {
			log.Fatal("Usage: assetgrid set <assetID> <fieldID> <value>")
		}
		var val any
		if err := json.Unmarshal([]byte(args[2]), &val); err != nil {
			// Not valid JSON, treat as a string
			val = args[2]
		}
		// Lock, write, release. The daemon would accept an unlocked write
		// with a warning, but the CLI does it properly.
		res, err := client.AcquireFieldLock(args[0], args[1])
		if err != nil {
			log.Fatal(err)
		}
		if !res.Granted {
			log.Fatalf("Value is locked: %s", res.Reason)
		}
		logs, err := client.UpdateAssetField(args[0], args[1], val)
		// log.Fatal exits without running defers, so the lock is released
		// explicitly on both paths instead of deferred.
		if _, rerr := client.ReleaseFieldLock(args[0], args[1]); rerr != nil {
			log.Printf("release lock: %v", rerr)
		}
		if err != nil {
			log.Fatal(err)
		}
		for _, m := range logs {
			fmt.Println(m)
		}
		fmt.Println("OK")

	case "lock":
		if len(args) < 2 {
			log.Fatal("Usage: assetgrid lock <assetID> <fieldID>")
		}
		res, err := client.AcquireFieldLock(args[0], args[1])
		if err != nil {
			log.Fatal(err)
		}
		printJSON(res)

	case "unlock":
		if len(args) < 2 {
			log.Fatal("Usage: assetgrid unlock <assetID> <fieldID>")
		}
		res, err := client.ReleaseFieldLock(args[0], args[1])
		if err != nil {
			log.Fatal(err)
		}
		printJSON(res)

	case "locks":
		if len(args) < 1 {
			log.Fatal("Usage: assetgrid locks <assetID>")
		}
		states, err := client.AssetLockStates(args[0])
		if err != nil {
			log.Fatal(err)
		}
		printJSON(states)

	case "validate":
		if len(args) < 1 {
			log.Fatal(`Usage: assetgrid validate '{"<fieldID>": <value>, ...}'`)
		}
		var metadata map[string]any
		if err := json.Unmarshal([]byte(args[0]), &metadata); err != nil {
			log.Fatalf("Invalid metadata: %v", err)
		}
		failures, err := client.Validate(metadata)
		if err != nil {
			log.Fatal(err)
		}
		if len(failures) == 0 {
			fmt.Println("OK")
			return
		}
		printJSON(failures)
		os.Exit(1)

	case "audit":
		assetID := ""
		if len(args) > 0 {
			assetID = args[0]
		}
		entries, err := client.Audit(assetID, 0)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(entries)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func printUsage() {
	fmt.Println("AssetGrid CLI - Interface for assetgridd")
	fmt.Println("\nUsage:")
	fmt.Println("  assetgrid fields")
	fmt.Println("  assetgrid mkfield <name> <kind> [constraints-json]")
	fmt.Println("  assetgrid rmfield <fieldID>")
	fmt.Println("  assetgrid assets")
	fmt.Println("  assetgrid asset <assetID>")
	fmt.Println("  assetgrid mkasset [metadata-json]")
	fmt.Println("  assetgrid rmasset <assetID>")
	fmt.Println("  assetgrid set <assetID> <fieldID> <value>")
	fmt.Println("  assetgrid lock <assetID> <fieldID>")
	fmt.Println("  assetgrid unlock <assetID> <fieldID>")
	fmt.Println("  assetgrid locks <assetID>")
	fmt.Println("  assetgrid validate <metadata-json>")
	fmt.Println("  assetgrid audit [assetID]")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  ASSETGRID_ADDR    Daemon base URL (default: http://localhost:8080)")
	fmt.Println("  ASSETGRID_TOKEN   Bearer token (required)")
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
