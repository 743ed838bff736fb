package main

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"mediagate/pkg/datacenter"
	"mediagate/pkg/types"
	"mediagate/pkg/utils"

	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	var (
		dc       int
		kind     string
		mimeType string
		name     string
		title    string
	)

	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Upload a local file into the emulator bucket and print its links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if strings.HasPrefix(cfg.Emulator.Bucket, "mem://") {
				return fmt.Errorf("emulator.bucket is in-memory; seed needs a persistent bucket such as file:///var/lib/mediagate")
			}

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()

			if name == "" {
				name = filepath.Base(path)
			}
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(name))
				// Drop parameters such as charset
				if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
					mimeType = mt
				}
			}

			mediaKind := kindForMime(mimeType)
			if kind != "" {
				if mediaKind, err = types.ParseMediaKind(kind); err != nil {
					return err
				}
			}
			if dc == 0 {
				dc = cfg.HomeDatacenter
			}

			store, err := datacenter.OpenStore(cmd.Context(), cfg.Emulator.Bucket)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := store.PutObject(cmd.Context(), datacenter.ObjectSpec{
				DatacenterID: types.DatacenterID(dc),
				Kind:         mediaKind,
				FileName:     name,
				MimeType:     mimeType,
				Title:        title,
			}, f)
			if err != nil {
				return fmt.Errorf("failed to seed object: %w", err)
			}

			size := int64(0)
			if info, err := f.Stat(); err == nil {
				size = info.Size()
			}

			base := strings.TrimRight(cfg.PublicURL, "/")
			if base == "" {
				base = "http://localhost" + cfg.ListenAddress
			}

			fmt.Println(titleStyle.Render("Object seeded"))
			fmt.Println(field("Object ID", fmt.Sprint(id)))
			fmt.Println(field("Datacenter", fmt.Sprint(dc)))
			fmt.Println(field("Kind", string(mediaKind)))
			fmt.Println(field("Size", utils.FormatDataSize(size)))
			fmt.Println(field("Stream", fmt.Sprintf("%s/%d/%s", base, id, url.PathEscape(name))))
			fmt.Println(field("Player", fmt.Sprintf("%s/player/%d", base, id)))
			return nil
		},
	}

	cmd.Flags().IntVar(&dc, "datacenter", 0, "home datacenter of the object (default: home_datacenter)")
	cmd.Flags().StringVar(&kind, "kind", "", "media kind: video, audio, document, image, voice")
	cmd.Flags().StringVar(&mimeType, "mime", "", "mime type (default: guessed from the file name)")
	cmd.Flags().StringVar(&name, "name", "", "file name to store (default: base name of the file)")
	cmd.Flags().StringVar(&title, "title", "", "title for audio objects")

	return cmd
}

func kindForMime(mimeType string) types.MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return types.KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return types.KindAudio
	case strings.HasPrefix(mimeType, "image/"):
		return types.KindImage
	default:
		return types.KindDocument
	}
}
