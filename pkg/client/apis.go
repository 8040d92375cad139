package client

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/cellsim/cellsim/pkg/config"
	"github.com/cellsim/cellsim/pkg/solution"
	"github.com/cellsim/cellsim/pkg/types"
)

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	// Remove "" around JSON string. I don't want to use a JSON decoder just for this.
	ret = strings.TrimSpace(ret)
	if len(ret) >= 2 && ret[0] == '"' {
		ret = ret[1 : len(ret)-1]
	}
	return ret, nil
}

func (c *Client) GetParameterSets() ([]string, error) {
	ret, err := c.Get("/parameter-sets")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get parameter sets")
	}
	var sets []string
	if err := json.Unmarshal([]byte(ret), &sets); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal parameter sets")
	}
	return sets, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

// SetSolverConfig updates the server's solver tolerances. Nil fields are
// left unchanged.
func (c *Client) SetSolverConfig(spec types.SolverSpec) (string, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return "", err
	}
	return c.Put("/config/solver", string(payload))
}

func (c *Client) SubmitJob(spec types.JobSpec) (*types.Job, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/jobs", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to submit job")
	}
	var j types.Job
	if err := json.Unmarshal([]byte(ret), &j); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal job")
	}
	return &j, nil
}

func (c *Client) ListJobs() ([]types.Job, error) {
	ret, err := c.Get("/jobs")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list jobs")
	}
	var jobs []types.Job
	if err := json.Unmarshal([]byte(ret), &jobs); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal jobs")
	}
	return jobs, nil
}

func (c *Client) GetJob(id string) (*types.Job, error) {
	ret, err := c.Get("/jobs/" + id)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get job %s", id)
	}
	var j types.Job
	if err := json.Unmarshal([]byte(ret), &j); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal job")
	}
	return &j, nil
}

func (c *Client) GetJobSolution(id string) (*solution.Solution, error) {
	ret, err := c.Get("/jobs/" + id + "/solution")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get solution of job %s", id)
	}
	return solution.Load(strings.NewReader(ret))
}

// DeleteJob cancels a live job or removes a finished one. The returned
// string names the action the server took.
func (c *Client) DeleteJob(id string) (string, error) {
	ret, err := c.Delete("/jobs/" + id)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to delete job %s", id)
	}
	var action string
	if err := json.Unmarshal([]byte(ret), &action); err != nil {
		return "", pkgerrors.Wrap(err, "failed to unmarshal delete response")
	}
	return action, nil
}
