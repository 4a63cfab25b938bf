package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cenkalti/log"
	"github.com/cenkalti/piecemeal/download"
	"github.com/cenkalti/piecemeal/internal/bitfield"
	"github.com/cenkalti/piecemeal/internal/jsonutil"
	"github.com/cenkalti/piecemeal/internal/logger"
	"github.com/cenkalti/piecemeal/internal/metainfo"
	"github.com/cenkalti/piecemeal/internal/piece"
	"github.com/cenkalti/piecemeal/internal/verifier"
	"github.com/urfave/cli"
)

const defaultConfig = "~/piecemeal/config.yaml"

var version = "0.0.0"

var mainLog = logger.New("piecemeal")

func main() {
	app := cli.NewApp()
	app.Name = "piecemeal"
	app.Usage = "Piece scheduler and storage of a BitTorrent download"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "read config from `FILE`",
			Value: defaultConfig,
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			logger.SetLevel(log.DEBUG)
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:      "create",
			Usage:     "create a torrent file",
			ArgsUsage: "<file>",
			Action:    handleCreate,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "out, o",
					Usage: "write torrent to `FILE`, defaults to <file>.torrent",
				},
				cli.UintFlag{
					Name:  "piece-length, l",
					Usage: "piece length in bytes, calculated from file size if not given",
				},
				cli.StringSliceFlag{
					Name:  "tracker, t",
					Usage: "tracker URL, can be given multiple times",
				},
				cli.StringFlag{
					Name:  "comment",
					Usage: "add `COMMENT` to torrent",
				},
			},
		},
		{
			Name:      "info",
			Usage:     "show piece layout of a torrent",
			ArgsUsage: "<torrent>",
			Action:    handleInfo,
		},
		{
			Name:      "verify",
			Usage:     "check pieces of a downloaded file",
			ArgsUsage: "<torrent> <file>",
			Action:    handleVerify,
		},
		{
			Name:      "fetch",
			Usage:     "download a torrent from a local seed file through simulated peers",
			ArgsUsage: "<torrent>",
			Action:    handleFetch,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "seed, s",
					Usage: "complete copy of the data that peers serve from",
				},
				cli.StringFlag{
					Name:  "dest",
					Usage: "download into `DIR` instead of data_dir in config",
				},
				cli.IntFlag{
					Name:  "peers, n",
					Usage: "number of simulated peers",
					Value: 4,
				},
				cli.Float64Flag{
					Name:  "availability",
					Usage: "probability of a peer having a piece",
					Value: 0.75,
				},
				cli.Float64Flag{
					Name:  "corrupt",
					Usage: "probability of a peer sending a corrupt block",
				},
				cli.IntFlag{
					Name:  "rate",
					Usage: "total upload rate of peers in bytes per second, 0 for unlimited",
				},
				cli.BoolFlag{
					Name:  "rpc",
					Usage: "serve statistics over JSON-RPC during download",
				},
			},
		},
		{
			Name:   "status",
			Usage:  "show statistics of a running fetch",
			Action: handleStatus,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "url",
					Usage: "URL of the RPC server",
					Value: fmt.Sprintf("http://%s:%d", download.DefaultConfig.RPCHost, download.DefaultConfig.RPCPort),
				},
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func handleCreate(c *cli.Context) error {
	path := c.Args().Get(0)
	if path == "" {
		return errors.New("file argument is required")
	}
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	info, err := metainfo.NewInfoBytes(filepath.Base(path), f, fi.Size(), uint32(c.Uint("piece-length")))
	if err != nil {
		return err
	}
	var trackers [][]string
	for _, t := range c.StringSlice("tracker") {
		trackers = append(trackers, []string{t})
	}
	b, err := metainfo.NewBytes(info, trackers, c.String("comment"))
	if err != nil {
		return err
	}
	out := c.String("out")
	if out == "" {
		out = filepath.Base(path) + ".torrent"
	}
	return os.WriteFile(out, b, 0640)
}

type torrentInfo struct {
	Name            string
	InfoHash        string
	TotalLength     int64
	PieceLength     uint32
	NumPieces       uint32
	LastPieceLength uint32
	BlocksPerPiece  int
	LastPieceBlocks int
	LastBlockLength uint32
	Files           int
}

func readTorrent(path string) (*metainfo.MetaInfo, error) {
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return metainfo.New(f)
}

func handleInfo(c *cli.Context) error {
	mi, err := readTorrent(c.Args().Get(0))
	if err != nil {
		return err
	}
	pieces := piece.NewPieces(&mi.Info)
	first, last := pieces[0], pieces[len(pieces)-1]
	ti := torrentInfo{
		Name:            mi.Info.Name,
		InfoHash:        hex.EncodeToString(mi.Info.Hash[:]),
		TotalLength:     mi.Info.TotalLength,
		PieceLength:     mi.Info.PieceLength,
		NumPieces:       mi.Info.NumPieces,
		LastPieceLength: last.Length,
		BlocksPerPiece:  first.NumBlocks(),
		LastPieceBlocks: last.NumBlocks(),
		LastBlockLength: last.Blocks[len(last.Blocks)-1].Length,
		Files:           len(mi.Info.GetFiles()),
	}
	b, err := jsonutil.MarshalCompactPretty(ti)
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	return nil
}

func handleVerify(c *cli.Context) error {
	mi, err := readTorrent(c.Args().Get(0))
	if err != nil {
		return err
	}
	r, err := openFileReader(c.Args().Get(1), &mi.Info)
	if err != nil {
		return err
	}
	defer r.Close()

	v := verifier.New()
	progressC := make(chan verifier.Progress)
	resultC := make(chan *verifier.Verifier)
	go v.Run(r, progressC, resultC)

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigC)

	for {
		select {
		case p := <-progressC:
			fmt.Fprintf(os.Stderr, "\rchecked %d/%d, %d ok", p.Checked, r.NumPieces(), p.OK)
		case res := <-resultC:
			fmt.Fprintln(os.Stderr)
			if res.Error != nil {
				return res.Error
			}
			fmt.Printf("%d/%d pieces are valid\n", res.Bitfield.Count(), res.Bitfield.Len())
			fmt.Println(res.Bitfield.Hex())
			return nil
		case <-sigC:
			v.Close()
			return errors.New("interrupted")
		}
	}
}

func handleStatus(c *cli.Context) error {
	clt := download.NewClient(c.String("url"))
	defer clt.Close()
	s, err := clt.GetStats()
	if err != nil {
		return err
	}
	b, err := jsonutil.MarshalCompactPretty(s)
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	bf, err := clt.GetBitfield()
	if err != nil {
		return err
	}
	hb, err := hex.DecodeString(bf.Bitfield)
	if err != nil {
		return err
	}
	v, err := bitfield.NewBytes(hb, bf.Length)
	if err != nil {
		return err
	}
	fmt.Printf("Bitfield: %s (%d/%d)\n", bf.Bitfield, v.Count(), v.Len())
	return nil
}
