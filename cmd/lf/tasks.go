package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"labelflow/internal/engine"
	"labelflow/internal/review"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage reference tasks",
		Long:  "Tasks are yes/no questions about an image. Each reviewer keeps one answer per task.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskRespondCmd())
	return task
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Points", "Yes", "No", "Version"})
				for _, t := range tasks {
					yes, no := review.Tally(t.Responses)
					tw.AppendRow(table.Row{t.ID, t.Title, t.Points, yes, no, t.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var imagePath, examplePath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task from a local image",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			opts.ActorID = actor
			img, err := os.Open(imagePath)
			if err != nil {
				return err
			}
			defer img.Close()
			opts.Image = &engine.Upload{Filename: filepath.Base(imagePath), Reader: img}
			if examplePath != "" {
				ex, err := os.Open(examplePath)
				if err != nil {
					return err
				}
				defer ex.Close()
				opts.ExampleImage = &engine.Upload{Filename: filepath.Base(examplePath), Reader: ex}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Text, "text", "", "question text")
	cmd.Flags().IntVar(&opts.Points, "points", 0, "reward points")
	cmd.Flags().StringVar(&opts.ExampleDescription, "example-description", "", "description of the example")
	cmd.Flags().StringVar(&imagePath, "image", "", "path to the task image")
	cmd.Flags().StringVar(&examplePath, "example-image", "", "path to the example image")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func taskRespondCmd() *cobra.Command {
	var answer bool
	var reason string
	cmd := &cobra.Command{
		Use:   "respond <task-id>",
		Short: "Answer a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, outcome, err := e.AddTaskResponse(ctx, engine.ResponseOptions{
					TaskID:  args[0],
					ActorID: actor,
					Verdict: answer,
					Reason:  reason,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"outcome": outcome.String(), "task": t})
				}
				yes, no := review.Tally(t.Responses)
				fmt.Printf("%s: %d yes / %d no (%s)\n", t.ID, yes, no, outcome)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&answer, "answer", false, "true for yes, false for no")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the answer")
	_ = cmd.MarkFlagRequired("answer")
	return cmd
}
