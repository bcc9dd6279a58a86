package cli

// cmd/cli/contract.go — CLI wrapper for the contract data model.
// ----------------------------------------------------------------------------
// Layout
//   1. Globals & middleware (env-driven logger wiring).
//   2. Controllers — one per sub-command, thin and validated.
//   3. CLI definitions — commands + flags.
//   4. Consolidated route export (BOTTOM), imported by the root CLI.
// ----------------------------------------------------------------------------

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	core "github.com/storj-archived/core-sub000/core"
)

// ---------------------------------------------------------------------------
// Globals & middleware
// ---------------------------------------------------------------------------

var contractLG = logrus.New()

func initContractMiddleware(cmd *cobra.Command, _ []string) {
	_ = godotenv.Load()
	contractLG = newLogger()
}

// ---------------------------------------------------------------------------
// Controllers
// ---------------------------------------------------------------------------

func contractCreate(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("shard")
	days, _ := cmd.Flags().GetInt("days")
	auditCount, _ := cmd.Flags().GetInt("audits")
	storagePrice, _ := cmd.Flags().GetInt64("storage-price")
	downloadPrice, _ := cmd.Flags().GetInt64("download-price")
	out, _ := cmd.Flags().GetString("out")

	shard, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read shard: %w", err)
	}

	audit, err := core.NewAuditStream(auditCount)
	if err != nil {
		return err
	}
	if _, err := audit.Write(shard); err != nil {
		return err
	}
	if err := audit.Finish(); err != nil {
		return err
	}
	public, err := audit.PublicRecord()
	if err != nil {
		return err
	}
	private, err := audit.PrivateRecord()
	if err != nil {
		return err
	}

	begin := time.Now().UnixMilli()
	contract, err := core.NewContract(map[string]any{
		"data_size":              len(shard),
		"data_hash":              core.Hash160Hex(shard),
		"store_begin":            begin,
		"store_end":              begin + int64(days)*24*time.Hour.Milliseconds(),
		"audit_count":            auditCount,
		"audit_leaves":           public,
		"payment_storage_price":  storagePrice,
		"payment_download_price": downloadPrice,
	})
	if err != nil {
		return err
	}

	if err := writeJSONFile(out, contract); err != nil {
		return err
	}
	if err := writeJSONFile(out+".audit", private); err != nil {
		return err
	}
	contractLG.Infof("contract written to %s (audit records in %s.audit)", out, out)
	fmt.Println(contract.TopicHex())
	return nil
}

func contractSign(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("contract")
	role, _ := cmd.Flags().GetString("role")
	keyHex, _ := cmd.Flags().GetString("key")
	if keyHex == "" {
		keyHex = os.Getenv("NODE_PRIVATE_KEY")
	}
	if keyHex == "" {
		return errors.New("private key required via --key or NODE_PRIVATE_KEY")
	}

	contract, err := readContractFile(path)
	if err != nil {
		return err
	}
	priv, err := core.ParsePrivateKeyHex(keyHex)
	if err != nil {
		return err
	}
	keys, err := core.NewKeyRing(priv, "", 0, contractLG)
	if err != nil {
		return err
	}

	idField := role + "_id"
	if contract.Get(idField) == nil {
		if err := contract.Set(idField, keys.NodeID()); err != nil {
			return err
		}
	}
	if err := contract.Sign(role, keys); err != nil {
		return err
	}
	if err := writeJSONFile(path, contract); err != nil {
		return err
	}
	contractLG.Infof("signed %s as %s (%s)", path, role, keys.NodeID())
	return nil
}

func contractVerify(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("contract")
	contract, err := readContractFile(path)
	if err != nil {
		return err
	}
	for _, role := range []string{core.RoleRenter, core.RoleFarmer} {
		ok := contract.Verify(role)
		fmt.Printf("%s: %v\n", role, ok)
	}
	fmt.Printf("valid: %v\ncomplete: %v\n", contract.IsValid(), contract.IsComplete())
	return nil
}

func contractTopic(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("contract")
	contract, err := readContractFile(path)
	if err != nil {
		return err
	}
	fmt.Println(contract.TopicHex())
	return nil
}

func contractInspect(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("contract")
	contract, err := readContractFile(path)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(contract, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func readContractFile(path string) (*core.Contract, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open contract: %w", err)
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return core.ParseContract(raw)
}

func writeJSONFile(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// ---------------------------------------------------------------------------
// CLI definitions
// ---------------------------------------------------------------------------

var contractCmd = &cobra.Command{
	Use:              "contract",
	Short:            "Create, sign and inspect storage contracts",
	PersistentPreRun: initContractMiddleware,
}

var contractCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "build a shard descriptor with audit records",
	RunE:  contractCreate,
}

var contractSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "sign a contract as renter or farmer",
	RunE:  contractSign,
}

var contractVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "verify both contract signatures",
	RunE:  contractVerify,
}

var contractTopicCmd = &cobra.Command{
	Use:   "topic",
	Short: "print the contract's pub/sub topic",
	RunE:  contractTopic,
}

var contractInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "pretty-print a contract file",
	RunE:  contractInspect,
}

func init() {
	contractCreateCmd.Flags().String("shard", "", "path to the shard file")
	contractCreateCmd.Flags().Int("days", 30, "storage duration in days")
	contractCreateCmd.Flags().Int("audits", 8, "number of audit challenges")
	contractCreateCmd.Flags().Int64("storage-price", 0, "storage price")
	contractCreateCmd.Flags().Int64("download-price", 0, "download price")
	contractCreateCmd.Flags().String("out", "contract.json", "output path")
	_ = contractCreateCmd.MarkFlagRequired("shard")

	contractSignCmd.Flags().String("contract", "contract.json", "contract file")
	contractSignCmd.Flags().String("role", core.RoleRenter, "renter or farmer")
	contractSignCmd.Flags().String("key", "", "hex private key (or NODE_PRIVATE_KEY)")

	contractVerifyCmd.Flags().String("contract", "contract.json", "contract file")
	contractTopicCmd.Flags().String("contract", "contract.json", "contract file")
	contractInspectCmd.Flags().String("contract", "contract.json", "contract file")

	contractCmd.AddCommand(contractCreateCmd, contractSignCmd, contractVerifyCmd, contractTopicCmd, contractInspectCmd)
}

// ContractRoute exports the consolidated contract command tree.
func ContractRoute() *cobra.Command { return contractCmd }
