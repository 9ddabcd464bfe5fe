package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperhtml/renderd/internal/types"
)

const (
	flagDocumentID = "document-id"
	flagRenderID   = "render-id"
	flagForce      = "force"
	flagLatest     = "latest"
)

// GetRenderCmd returns the render command
func GetRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Get the render to display for a document, starting one if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			documentID, _ := cmd.Flags().GetUint(flagDocumentID)
			force, _ := cmd.Flags().GetBool(flagForce)

			c, err := getAPIClient(cmd)
			if err != nil {
				return err
			}

			var resp types.RenderResponse
			if force {
				resp, err = c.CreateDocumentRender(cmd.Context(), documentID)
			} else {
				resp, err = c.GetDocumentRender(cmd.Context(), documentID)
			}
			if err != nil {
				return fmt.Errorf("failed to render document %d: %w", documentID, err)
			}
			return printJSON(cmd, resp)
		},
	}

	cmd.Flags().UintP(flagDocumentID, "d", 0, "Document ID to render")
	cmd.Flags().BoolP(flagForce, "f", false, "Start a new render even if a usable one exists")
	_ = cmd.MarkFlagRequired(flagDocumentID)

	return cmd
}

// GetStateCmd returns the state command
func GetStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the state of a render, or of a document's newest render",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := getAPIClient(cmd)
			if err != nil {
				return err
			}

			var state types.StateResponse
			if cmd.Flags().Changed(flagLatest) {
				documentID, _ := cmd.Flags().GetUint(flagLatest)
				state, err = c.GetDocumentRenderState(cmd.Context(), documentID)
			} else if cmd.Flags().Changed(flagRenderID) {
				renderID, _ := cmd.Flags().GetUint(flagRenderID)
				state, err = c.GetRenderState(cmd.Context(), renderID)
			} else {
				return fmt.Errorf("one of --%s or --%s is required", flagRenderID, flagLatest)
			}
			if err != nil {
				return fmt.Errorf("failed to get render state: %w", err)
			}
			return printJSON(cmd, state)
		},
	}

	cmd.Flags().UintP(flagRenderID, "r", 0, "Render ID")
	cmd.Flags().Uint(flagLatest, 0, "Document ID whose newest render to show")
	cmd.MarkFlagsMutuallyExclusive(flagRenderID, flagLatest)

	return cmd
}
