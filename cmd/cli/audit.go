package cli

// cmd/cli/audit.go — offline audit tooling: generate challenge records for a
// shard, produce a proof the way a farmer would, and verify a proof against
// a recorded root.

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	core "github.com/storj-archived/core-sub000/core"
)

type auditRecordsFile struct {
	Public  []string          `json:"public"`
	Private *core.AuditRecord `json:"private"`
}

func initAuditMiddleware(*cobra.Command, []string) {
	_ = godotenv.Load()
}

func auditGenerate(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("shard")
	count, _ := cmd.Flags().GetInt("count")
	out, _ := cmd.Flags().GetString("out")

	shard, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	defer shard.Close()

	stream, err := core.NewAuditStream(count)
	if err != nil {
		return err
	}
	if _, err := io.Copy(stream, shard); err != nil {
		return err
	}
	if err := stream.Finish(); err != nil {
		return err
	}

	public, err := stream.PublicRecord()
	if err != nil {
		return err
	}
	private, err := stream.PrivateRecord()
	if err != nil {
		return err
	}
	if err := writeJSONFile(out, auditRecordsFile{Public: public, Private: private}); err != nil {
		return err
	}
	fmt.Printf("root %s depth %d (%d challenges) -> %s\n", private.Root, private.Depth, count, out)
	return nil
}

func auditProve(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("shard")
	recordsPath, _ := cmd.Flags().GetString("records")
	index, _ := cmd.Flags().GetInt("challenge")

	records, err := readAuditRecords(recordsPath)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(records.Private.Challenges) {
		return fmt.Errorf("challenge index %d out of range", index)
	}

	shard, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	defer shard.Close()

	stream, err := core.NewProofStream(records.Public, records.Private.Challenges[index])
	if err != nil {
		return err
	}
	if _, err := io.Copy(stream, shard); err != nil {
		return err
	}
	if err := stream.Finish(); err != nil {
		return err
	}
	proof, err := stream.Proof()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(proof)
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func auditVerify(cmd *cobra.Command, _ []string) error {
	recordsPath, _ := cmd.Flags().GetString("records")
	proofPath, _ := cmd.Flags().GetString("proof")

	records, err := readAuditRecords(recordsPath)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(proofPath)
	if err != nil {
		return fmt.Errorf("read proof: %w", err)
	}
	var node core.ProofNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return fmt.Errorf("parse proof: %w", err)
	}

	expected, computed, err := core.VerifyProof(&node, records.Private.Root, records.Private.Depth)
	if err != nil {
		return err
	}
	if expected != computed {
		return fmt.Errorf("proof does not collapse to root: expected %s computed %s", expected, computed)
	}
	fmt.Println("proof verified")
	return nil
}

func readAuditRecords(path string) (*auditRecordsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	var records auditRecordsFile
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}
	if records.Private == nil || len(records.Public) == 0 {
		return nil, fmt.Errorf("records file %s is incomplete", path)
	}
	return &records, nil
}

var auditCmd = &cobra.Command{
	Use:              "audit",
	Short:            "Generate, answer and verify storage audits",
	PersistentPreRun: initAuditMiddleware,
}

var auditGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "generate audit challenges for a shard",
	RunE:  auditGenerate,
}

var auditProveCmd = &cobra.Command{
	Use:   "prove",
	Short: "answer a challenge from stored shard bytes",
	RunE:  auditProve,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "verify a proof against the recorded root",
	RunE:  auditVerify,
}

func init() {
	auditGenerateCmd.Flags().String("shard", "", "path to the shard file")
	auditGenerateCmd.Flags().Int("count", 8, "number of challenges")
	auditGenerateCmd.Flags().String("out", "audit.json", "records output path")
	_ = auditGenerateCmd.MarkFlagRequired("shard")

	auditProveCmd.Flags().String("shard", "", "path to the shard file")
	auditProveCmd.Flags().String("records", "audit.json", "records file")
	auditProveCmd.Flags().Int("challenge", 0, "challenge index")
	_ = auditProveCmd.MarkFlagRequired("shard")

	auditVerifyCmd.Flags().String("records", "audit.json", "records file")
	auditVerifyCmd.Flags().String("proof", "proof.json", "proof file")

	auditCmd.AddCommand(auditGenerateCmd, auditProveCmd, auditVerifyCmd)
}

// AuditRoute exports the consolidated audit command tree.
func AuditRoute() *cobra.Command { return auditCmd }
