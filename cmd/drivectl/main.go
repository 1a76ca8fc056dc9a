// BreezeDrive client CLI
//
// A thin command wrapper around the client engine:
// - disk listing, navigation, and tree printing
// - optimistic create/upload/delete/rename/pin
// - cut/copy/paste between disks
// - two-phase search
// - local blob resolution with signed-URL refresh
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/breezedrive/breezedrive/internal/api"
	"github.com/breezedrive/breezedrive/internal/blobstore"
	"github.com/breezedrive/breezedrive/internal/config"
	"github.com/breezedrive/breezedrive/internal/device"
	"github.com/breezedrive/breezedrive/internal/engine"
	"github.com/breezedrive/breezedrive/internal/localfile"
	"github.com/breezedrive/breezedrive/internal/logging"
	"github.com/breezedrive/breezedrive/internal/metrics"
	"github.com/breezedrive/breezedrive/internal/statestore"
	"github.com/breezedrive/breezedrive/pkg/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := api.New(api.Config{BaseURL: cfg.ServerURL})

	if os.Args[1] == "login" {
		runLogin(ctx, client, cfg.ServerURL, os.Args[2:])
		return
	}

	if tf, err := api.LoadToken(); err == nil {
		client.SetAuthToken(tf.Token)
		if err := client.EnsureFresh(ctx, tf, 2*time.Minute); err != nil {
			logging.Warn("token refresh failed", zap.Error(err))
		}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logging.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logging.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	store, err := statestore.Open(cfg.StateDir)
	if err != nil {
		logging.Fatal("open state store failed", zap.Error(err))
	}
	defer store.Close()

	blobs, err := blobstore.Open(cfg.BlobCacheDir, cfg.BlobCacheMax)
	if err != nil {
		logging.Fatal("open blob cache failed", zap.Error(err))
	}

	fingerprint, err := device.Fingerprint(store)
	if err != nil {
		logging.Fatal("device fingerprint failed", zap.Error(err))
	}

	eng := engine.New(engine.Options{
		Backend:        client,
		Quota:          client,
		Store:          store,
		Blobs:          blobs,
		Fingerprint:    fingerprint,
		SearchDebounce: cfg.SearchDebounce,
		MaxUploadSize:  cfg.MaxUploadSize,
	})
	defer eng.Close()

	if err := eng.LoadDisks(ctx); err != nil {
		logging.Fatal("load disks failed", zap.Error(err))
	}
	if err := eng.RestoreNavigation(ctx); err != nil {
		logging.Warn("navigation restore failed", zap.Error(err))
	}

	resolver := localfile.NewResolver(blobs, client, fingerprint)

	if err := run(ctx, eng, resolver, os.Args[1], os.Args[2:]); err != nil {
		logging.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, eng *engine.Engine, resolver *localfile.Resolver, cmd string, args []string) error {
	switch cmd {
	case "disks":
		for _, d := range eng.Disks() {
			fmt.Printf("%-12s %-20s %.2f/%.2f %s\n",
				d.ID, d.Name, d.Usage.Used, d.Usage.Total, d.Usage.Unit)
		}
		return nil

	case "ls":
		if len(args) < 1 {
			return fmt.Errorf("usage: drivectl ls <disk> [folder...]")
		}
		if err := eng.SelectDisk(ctx, args[0]); err != nil {
			return err
		}
		for _, folderID := range args[1:] {
			if err := eng.EnterFolder(ctx, folderID); err != nil {
				return err
			}
		}
		for _, item := range eng.GetCurrentFolderFiles() {
			printItem(item, 0)
		}
		return nil

	case "tree":
		if len(args) < 1 {
			return fmt.Errorf("usage: drivectl tree <disk>")
		}
		if err := eng.RefreshDisk(ctx, args[0]); err != nil {
			return err
		}
		for _, d := range eng.Disks() {
			if d.ID == args[0] {
				printTree(d.Files, 0)
			}
		}
		return nil

	case "mkdir":
		if len(args) < 3 {
			return fmt.Errorf("usage: drivectl mkdir <disk> <parent|-> <name>")
		}
		parent := args[1]
		if parent == "-" {
			parent = ""
		}
		folder, err := eng.CreateFolder(ctx, args[2], parent, args[0])
		if err != nil {
			return err
		}
		fmt.Println(folder.ID)
		return nil

	case "upload":
		if len(args) < 3 {
			return fmt.Errorf("usage: drivectl upload <disk> <parent|-> <file>")
		}
		parent := args[1]
		if parent == "-" {
			parent = ""
		}
		content, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		name := args[2]
		if i := strings.LastIndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
		item, err := eng.Upload(ctx, name, content, args[0], parent, func(done, total int64) {
			fmt.Fprintf(os.Stderr, "\r%d/%d bytes", done, total)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr)
		fmt.Println(item.ID)
		return nil

	case "rm":
		if len(args) < 1 {
			return fmt.Errorf("usage: drivectl rm <id>")
		}
		return eng.Delete(ctx, args[0])

	case "rename":
		if len(args) < 2 {
			return fmt.Errorf("usage: drivectl rename <id> <name>")
		}
		return eng.Rename(ctx, args[0], args[1])

	case "pin":
		if len(args) < 1 {
			return fmt.Errorf("usage: drivectl pin <id>")
		}
		return eng.TogglePin(ctx, args[0])

	case "mv":
		if len(args) < 3 {
			return fmt.Errorf("usage: drivectl mv <id> <target-disk> <target-parent|->")
		}
		return paste(ctx, eng, args, true)

	case "cp":
		if len(args) < 3 {
			return fmt.Errorf("usage: drivectl cp <id> <target-disk> <target-parent|->")
		}
		return paste(ctx, eng, args, false)

	case "search":
		if len(args) < 1 {
			return fmt.Errorf("usage: drivectl search <query>")
		}
		eng.Search(ctx, strings.Join(args, " "))
		results, searching := eng.SearchResults()
		for searching {
			time.Sleep(50 * time.Millisecond)
			results, searching = eng.SearchResults()
		}
		for _, item := range results {
			printItem(item, 0)
		}
		return nil

	case "open":
		if len(args) < 1 {
			return fmt.Errorf("usage: drivectl open <id>")
		}
		item := eng.GetFileByID(args[0])
		if item == nil {
			return fmt.Errorf("unknown item %q", args[0])
		}
		src := resolver.Resolve(item)
		if src.Local {
			fmt.Println(src.Path)
		} else {
			fmt.Println(src.URL)
		}
		return nil

	case "recent":
		paths, err := eng.RecentPaths(statestore.DefaultRecentLimit)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func paste(ctx context.Context, eng *engine.Engine, args []string, cut bool) error {
	parent := args[2]
	if parent == "-" {
		parent = ""
	}
	if cut {
		eng.CutFiles([]string{args[0]})
	} else {
		eng.CopyFiles([]string{args[0]})
	}
	return eng.PasteFiles(ctx, parent, args[1])
}

func runLogin(ctx context.Context, client *api.Client, server string, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: drivectl login <username> <password>")
		os.Exit(2)
	}
	host, _ := os.Hostname()
	resp, err := client.Login(ctx, args[0], args[1], host)
	if err != nil {
		logging.Fatal("login failed", zap.Error(err))
	}
	if err := api.SaveToken(&api.TokenFile{
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
		Server:    server,
		Username:  args[0],
	}); err != nil {
		logging.Fatal("save token failed", zap.Error(err))
	}
	fmt.Println("logged in")
}

func printItem(item *models.FileItem, depth int) {
	marker := " "
	if item.IsFolder {
		marker = "/"
	}
	pin := ""
	if item.IsPinned {
		pin = " *"
	}
	fmt.Printf("%s%-12s %s%s%s\n", strings.Repeat("  ", depth), item.ID, item.Name, marker, pin)
}

func printTree(items []*models.FileItem, depth int) {
	for _, item := range items {
		printItem(item, depth)
		if len(item.Children) > 0 {
			printTree(item.Children, depth+1)
		}
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: drivectl <command> [args]

commands:
  login <user> <pass>                  authenticate and store tokens
  disks                                list disks with usage
  ls <disk> [folder...]                list a folder
  tree <disk>                          print a disk's full tree
  mkdir <disk> <parent|-> <name>       create a folder
  upload <disk> <parent|-> <file>      upload a local file
  rm <id>                              delete an item and its contents
  rename <id> <name>                   rename an item
  pin <id>                             toggle an item's pin
  mv <id> <disk> <parent|->            move an item
  cp <id> <disk> <parent|->            copy an item
  search <query>                       search all disks
  open <id>                            print the local path or signed URL
  recent                               recently visited folders`)
}
