// Command zrtpdemo runs a ZRTP handshake between two in-process
// endpoints and prints the negotiated algorithms, the SAS both users
// would read aloud, the exported key and whether a retained secret
// matched. Useful as a
// smoke test and as a minimal example of embedding the library.
package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clearline/go-zrtp/pkg/crypto"
	"github.com/clearline/go-zrtp/pkg/protocol"
	"github.com/clearline/go-zrtp/pkg/storage"
	"github.com/clearline/go-zrtp/pkg/zrtp"
)

type endpoint struct {
	name    string
	session *zrtp.Session
	out     [][]byte
	sas     string
	secure  bool
}

func (e *endpoint) SendDataZRTP(data []byte) bool {
	e.out = append(e.out, append([]byte(nil), data...))
	return true
}

func (e *endpoint) ActivateTimer(ms int) bool { return true }
func (e *endpoint) CancelTimer() bool         { return true }

func (e *endpoint) SendInfo(sev zrtp.Severity, subcode int32) {}

func (e *endpoint) SRTPSecretsReady(secrets *zrtp.SRTPSecrets, part zrtp.SRTPPart) bool {
	return true
}

func (e *endpoint) SRTPSecretsOn(cipher, sas string, verified bool) {
	e.sas = sas
	e.secure = true
	log.Printf("%s: secure (%s), SAS %q, verified=%v", e.name, cipher, sas, verified)
}

func (e *endpoint) SRTPSecretsOff(part zrtp.SRTPPart) {}

func (e *endpoint) NegotiationFailed(sev zrtp.Severity, subcode int32) {
	log.Printf("%s: negotiation failed: severity=%d subcode=%d", e.name, sev, subcode)
}

func (e *endpoint) NotSuppOther() {
	log.Printf("%s: peer does not support ZRTP", e.name)
}

func (e *endpoint) AskEnrollment(info zrtp.EnrollmentInfo)    {}
func (e *endpoint) InformEnrollment(info zrtp.EnrollmentInfo) {}
func (e *endpoint) SignSAS(sasHash []byte)                    {}
func (e *endpoint) CheckSASSignature(sasHash []byte) bool     { return true }

func newEndpoint(name, cacheDir string, policy crypto.SelectionPolicy) (*endpoint, error) {
	cache := storage.NewSQLiteCache()
	zid, err := cache.Open(filepath.Join(cacheDir, name+".db"))
	if err != nil {
		return nil, err
	}

	e := &endpoint{name: name}
	cfg := zrtp.DefaultConfig(cache)
	cfg.ClientID = "zrtpdemo"
	cfg.Policy = policy

	e.session, err = zrtp.NewSession(zid, e, cfg)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func pump(a, b *endpoint) {
	for i := 0; i < 64; i++ {
		moved := false
		for len(a.out) > 0 {
			pkt := a.out[0]
			a.out = a.out[1:]
			b.session.ProcessMessage(pkt, 0x0001)
			moved = true
		}
		for len(b.out) > 0 {
			pkt := b.out[0]
			b.out = b.out[1:]
			a.session.ProcessMessage(pkt, 0x0002)
			moved = true
		}
		if !moved {
			return
		}
	}
}

func runLoopback(cacheDir string, nonNIST bool, rounds int) error {
	policy := crypto.PolicyStandard
	if nonNIST {
		policy = crypto.PolicyNonNIST
	}

	for round := 1; round <= rounds; round++ {
		alice, err := newEndpoint("alice", cacheDir, policy)
		if err != nil {
			return err
		}
		bob, err := newEndpoint("bob", cacheDir, policy)
		if err != nil {
			return err
		}

		alice.session.Start()
		bob.session.Start()
		pump(alice, bob)

		if !alice.secure || !bob.secure {
			return fmt.Errorf("round %d: handshake did not complete", round)
		}
		if alice.sas != bob.sas {
			return fmt.Errorf("round %d: SAS mismatch %q vs %q", round, alice.sas, bob.sas)
		}

		info := alice.session.DetailInfo()
		fmt.Printf("round %d: %s as %s / %s as %s\n",
			round, alice.name, alice.session.Role(), bob.name, bob.session.Role())
		fmt.Printf("  algorithms: hash=%s cipher=%s auth=%s pk=%s sas=%s\n",
			info.Hash, info.Cipher, info.AuthLength, info.PubKey, info.SASType)
		fmt.Printf("  SAS: %s\n", alice.sas)
		fmt.Printf("  exported key: %s\n", hex.EncodeToString(alice.session.ExportedKey()))
		if info.SecretsMatched&zrtp.SecretRS1 != 0 {
			fmt.Println("  retained secret: RS1 matched (continuity with previous round)")
		} else {
			fmt.Println("  retained secret: none matched (first contact)")
		}

		alice.session.Stop()
		bob.session.Stop()
	}
	return nil
}

func main() {
	var (
		cacheDir string
		nonNIST  bool
		rounds   int
	)

	root := &cobra.Command{
		Use:   "zrtpdemo",
		Short: "Run a loopback ZRTP handshake between two endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cacheDir == "" {
				dir, err := os.MkdirTemp("", "zrtpdemo")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)
				cacheDir = dir
			}
			return runLoopback(cacheDir, nonNIST, rounds)
		},
	}
	root.Flags().StringVar(&cacheDir, "cache-dir", "", "directory for the ZID caches (default: temp)")
	root.Flags().BoolVar(&nonNIST, "non-nist", false, "prefer non-NIST algorithms")
	root.Flags().IntVar(&rounds, "rounds", 2, "handshake rounds (>1 shows retained-secret continuity)")

	caches := &cobra.Command{
		Use:   "caches [db]",
		Short: "List the records of a ZID cache database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := storage.NewSQLiteCache()
			local, err := cache.Open(args[0])
			if err != nil {
				return err
			}
			defer cache.Close()

			records, err := cache.All()
			if err != nil {
				return err
			}
			fmt.Printf("local ZID %s, %d peer record(s)\n", hexZID(local), len(records))
			for _, rec := range records {
				fmt.Printf("  %s rs1=%v rs2=%v sasVerified=%v mitm=%v name=%q\n",
					hexZID(rec.ZID), rec.IsRS1Valid(), rec.IsRS2Valid(),
					rec.IsSASVerified(), rec.HasMITMKey(), rec.Name)
			}
			return nil
		},
	}
	root.AddCommand(caches)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func hexZID(z protocol.ZID) string {
	return hex.EncodeToString(z[:])
}
