package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/docuflow/internal/config"
	"github.com/cuemby/docuflow/pkg/ingress"
	"github.com/cuemby/docuflow/pkg/objectstore"
	"github.com/cuemby/docuflow/pkg/recordstore"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage tenant template registrations",
}

var templateUploadCmd = &cobra.Command{
	Use:   "upload <file.xlsx>",
	Short: "Parse and register a tenant's field-mapping template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateUpload,
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's registered templates",
	RunE:  runTemplateList,
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <template-id>",
	Short: "Tombstone a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateDelete,
}

func init() {
	templateCmd.AddCommand(templateUploadCmd)
	templateCmd.AddCommand(templateListCmd)
	templateCmd.AddCommand(templateDeleteCmd)

	templateUploadCmd.Flags().String("tenant-id", "", "Owning tenant id (required)")
	templateUploadCmd.Flags().String("name", "", "Template display name (required)")
	templateUploadCmd.MarkFlagRequired("tenant-id")
	templateUploadCmd.MarkFlagRequired("name")

	templateListCmd.Flags().String("tenant-id", "", "Owning tenant id (required)")
	templateListCmd.MarkFlagRequired("tenant-id")
}

func openRecordStore(cmd *cobra.Command) (context.Context, *recordstore.PostgresStore, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RecordStoreDSN == "" {
		return nil, nil, fmt.Errorf("record_store_dsn is required")
	}
	ctx := context.Background()
	records, err := recordstore.NewPostgresStore(ctx, cfg.RecordStoreDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open record store: %w", err)
	}
	return ctx, records, nil
}

func runTemplateUpload(cmd *cobra.Command, args []string) error {
	ctx, records, err := openRecordStore(cmd)
	if err != nil {
		return err
	}
	defer records.Close()

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	objects, err := objectstore.NewFSStore(cfg.ObjectStoreRoot)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	tenantID, _ := cmd.Flags().GetString("tenant-id")
	name, _ := cmd.Flags().GetString("name")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	svc := &ingress.Service{Objects: objects, Records: records}
	tmpl, err := svc.UploadTemplate(ctx, data, tenantID, name)
	if err != nil {
		return err
	}
	fmt.Printf("registered template %s (%s), %d fields\n", tmpl.TemplateID, tmpl.Name, len(tmpl.Fields))
	return nil
}

func runTemplateList(cmd *cobra.Command, _ []string) error {
	ctx, records, err := openRecordStore(cmd)
	if err != nil {
		return err
	}
	defer records.Close()

	tenantID, _ := cmd.Flags().GetString("tenant-id")
	templates, err := records.ListTemplates(ctx, tenantID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TEMPLATE_ID\tNAME\tFIELDS\tCREATED_AT")
	for _, t := range templates {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.TemplateID, t.Name, len(t.Fields), t.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
	return w.Flush()
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	ctx, records, err := openRecordStore(cmd)
	if err != nil {
		return err
	}
	defer records.Close()

	if err := records.DeleteTemplate(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted template %s\n", args[0])
	return nil
}
