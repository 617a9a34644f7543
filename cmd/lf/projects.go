package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"labelflow/internal/domain"
	"labelflow/internal/engine"
	"labelflow/internal/export"
	"labelflow/internal/lifecycle"
	"labelflow/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
		Long:  "Projects move through eleven statuses. Each subcommand below is one named transition; the acting user comes from --user-id.",
	}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectExportCmd())
	prj.AddCommand(simpleTransitionCmd("claim-labeling", "Claim a project for labeling", engine.Engine.ClaimForLabeling))
	prj.AddCommand(simpleTransitionCmd("download-source", "Record a source file download", engine.Engine.DownloadSourceFiles))
	prj.AddCommand(filesTransitionCmd("submit", "Submit labelled files", engine.Engine.SubmitLabelledFiles))
	prj.AddCommand(simpleTransitionCmd("claim-validation", "Claim a project for validation", engine.Engine.ClaimForValidation))
	prj.AddCommand(simpleTransitionCmd("download-labelled", "Record a labelled file download", engine.Engine.DownloadLabelledFiles))
	prj.AddCommand(notesTransitionCmd("send-back", "Send labelled files back for fixes", engine.Engine.SendBackForFixes))
	prj.AddCommand(filesTransitionCmd("resubmit", "Resubmit fixed files", engine.Engine.ResubmitAfterFix))
	prj.AddCommand(notesTransitionCmd("finalize", "Finalize validation", engine.Engine.FinalizeValidation))
	prj.AddCommand(feedbackCmd("complete", "Complete a validated project", engine.Engine.CompleteProject))
	prj.AddCommand(feedbackCmd("feedback", "Replace feedback on a completed project", engine.Engine.UpdateFeedback))
	prj.AddCommand(projectProgressCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printProjects(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Submitter, "submitter", "", "submitter filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter, e.g. \"Labeling Started\"")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	var name, description, fileType, totalSize, priority, notes, eta string
	var fileCount int
	var categories []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			opts.ActorID = actor
			d := lifecycle.Details{Name: &name, Categories: categories}
			flags := cmd.Flags()
			if flags.Changed("description") {
				d.Description = &description
			}
			if flags.Changed("file-type") {
				d.FileType = &fileType
			}
			if flags.Changed("file-count") {
				d.FileCount = &fileCount
			}
			if flags.Changed("total-size") {
				d.TotalSize = &totalSize
			}
			if flags.Changed("priority") {
				d.Priority = &priority
			}
			if flags.Changed("notes") {
				d.Notes = &notes
			}
			if flags.Changed("estimated-completion") {
				d.EstimatedCompletion = &eta
			}
			opts.Details = d
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printProject(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (random UUID if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&fileType, "file-type", "", "file type, e.g. image/png")
	cmd.Flags().IntVar(&fileCount, "file-count", 0, "number of files (defaults to the number of --file)")
	cmd.Flags().StringVar(&totalSize, "total-size", "", "human readable total size")
	cmd.Flags().StringVar(&priority, "priority", "", "High, Medium or Low")
	cmd.Flags().StringVar(&notes, "notes", "", "notes for labelers")
	cmd.Flags().StringVar(&eta, "estimated-completion", "", "estimated completion date")
	cmd.Flags().StringArrayVar(&categories, "category", nil, "category (repeatable)")
	cmd.Flags().StringArrayVar(&opts.FileIDs, "file", nil, "source file id (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printProject(p)
			})
		},
	}
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project (submitter only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteProject(ctx, args[0], actor); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func projectExportCmd() *cobra.Command {
	var out string
	var f repo.ProjectFilters
	var withEvents bool
	var eventLimit int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export projects to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				var evts []domain.Event
				if withEvents {
					evts, err = e.Repo.LatestEvents(ctx, repo.EventFilters{EntityKind: "project", Limit: eventLimit})
					if err != nil {
						return err
					}
				}
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := export.Workbook(file, items, evts); err != nil {
					file.Close()
					return err
				}
				if err := file.Close(); err != nil {
					return err
				}
				fmt.Printf("wrote %d projects to %s\n", len(items), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "projects.xlsx", "output file")
	cmd.Flags().StringVar(&f.Submitter, "submitter", "", "submitter filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().BoolVar(&withEvents, "events", false, "add an Events sheet")
	cmd.Flags().IntVar(&eventLimit, "event-limit", 1000, "max events in the Events sheet")
	return cmd
}

func simpleTransitionCmd(use, short string, fn func(engine.Engine, context.Context, string, string) (domain.Project, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Project, error) {
				return fn(e, ctx, args[0], actor)
			})
		},
	}
}

func filesTransitionCmd(use, short string, fn func(engine.Engine, context.Context, string, string, []string) (domain.Project, error)) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Project, error) {
				return fn(e, ctx, args[0], actor, files)
			})
		},
	}
	cmd.Flags().StringArrayVar(&files, "file", nil, "file id (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func notesTransitionCmd(use, short string, fn func(engine.Engine, context.Context, string, string, []string, string) (domain.Project, error)) *cobra.Command {
	var files []string
	var notes string
	cmd := &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Project, error) {
				return fn(e, ctx, args[0], actor, files, notes)
			})
		},
	}
	cmd.Flags().StringArrayVar(&files, "file", nil, "file id (repeatable)")
	cmd.Flags().StringVar(&notes, "notes", "", "validator notes")
	return cmd
}

func feedbackCmd(use, short string, fn func(engine.Engine, context.Context, string, string, domain.Feedback) (domain.Project, error)) *cobra.Command {
	var complete, labPublic, labPrivate, valPublic, valPrivate string
	cmd := &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fb := domain.Feedback{Complete: complete}
			if labPublic != "" || labPrivate != "" {
				fb.Labeler = &domain.FeedbackNote{Public: labPublic, Private: labPrivate}
			}
			if valPublic != "" || valPrivate != "" {
				fb.Validator = &domain.FeedbackNote{Public: valPublic, Private: valPrivate}
			}
			return runTransition(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Project, error) {
				return fn(e, ctx, args[0], actor, fb)
			})
		},
	}
	cmd.Flags().StringVar(&complete, "comment", "", "overall feedback")
	cmd.Flags().StringVar(&labPublic, "labeler-public", "", "public note for labelers")
	cmd.Flags().StringVar(&labPrivate, "labeler-private", "", "private note about labelers")
	cmd.Flags().StringVar(&valPublic, "validator-public", "", "public note for validators")
	cmd.Flags().StringVar(&valPrivate, "validator-private", "", "private note about validators")
	return cmd
}

func projectProgressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress <project-id> <percent>",
		Short: "Set progress manually (multiple of 5, never backwards)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var progress int
			if _, err := fmt.Sscanf(args[1], "%d", &progress); err != nil {
				return fmt.Errorf("progress must be an integer: %q", args[1])
			}
			return runTransition(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Project, error) {
				return e.UpdateProgressManually(ctx, args[0], actor, progress)
			})
		},
	}
	return cmd
}

func runTransition(cmd *cobra.Command, fn func(context.Context, engine.Engine, string) (domain.Project, error)) error {
	actor, err := actorID()
	if err != nil {
		return err
	}
	return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
		p, err := fn(ctx, e, actor)
		if err != nil {
			return err
		}
		return printProject(p)
	})
}
